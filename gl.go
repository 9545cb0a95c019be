package mediasink

// GL constants used by the presenter and the upload path. Values are from
// the OpenGL 1.x/2.x headers.
const (
	glDepthBufferBit   = 0x00000100
	glColorBufferBit   = 0x00004000
	glQuads            = 0x0007
	glTexture2D        = 0x0DE1
	glUnsignedByte     = 0x1401
	glRGBA             = 0x1908
	glTextureEnv       = 0x2300
	glTextureEnvMode   = 0x2200
	glReplace          = 0x1E01
	glLinear           = 0x2601
	glTextureMagFilter = 0x2800
	glTextureMinFilter = 0x2801
	glTextureWrapS     = 0x2802
	glTextureWrapT     = 0x2803
	glClampToEdge      = 0x812F
	glUnpackAlignment  = 0x0CF5
	glNoError          = 0
)

// GL is the subset of the fixed-function OpenGL API the sink uses. Calls are
// only valid while a context is current on the calling thread.
type GL interface {
	Viewport(x, y, width, height int32)
	ClearColor(r, g, b, a float32)
	Clear(mask uint32)
	Enable(capability uint32)
	Disable(capability uint32)

	GenTexture() uint32
	DeleteTexture(tex uint32)
	BindTexture(target, tex uint32)
	TexParameteri(target, pname uint32, param int32)
	TexEnvi(target, pname uint32, param int32)
	PixelStorei(pname uint32, param int32)
	TexImage2D(target uint32, level int32, internalFormat int32, width, height int32, format, typ uint32, pixels []byte)
	TexSubImage2D(target uint32, level int32, x, y, width, height int32, format, typ uint32, pixels []byte)

	Begin(mode uint32)
	TexCoord2f(s, t float32)
	Vertex2f(x, y float32)
	End()

	Finish()
	GetError() uint32
}

// quadVertex pairs a texture coordinate with the clip-space vertex it is
// drawn at. Texel row 0 lands at the top of the target rect.
type quadVertex struct {
	s, t float32
	x, y float32
}

var presentQuad = [4]quadVertex{
	{0, 0, -1, 1},
	{1, 0, 1, 1},
	{1, 1, 1, -1},
	{0, 1, -1, -1},
}
