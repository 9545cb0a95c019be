// Package mediasink renders decoded video straight into a host-owned OpenGL
// surface, using a GL context shared with the host instead of copying frames
// through the CPU.
//
// Key pieces include:
//   - Subsystem and Sink: reference-counted process setup and the per-surface
//     lifecycle (attach, play, pause, stop, detach, destroy)
//   - PresentationElement: the GL-upload end of a pipeline graph, delivering
//     texture-backed samples to a draw callback
//   - Context bridge: answers the pipeline's display and app-context queries
//     with the host's handles
//   - Builders for test patterns, files (Y4M and still images) and remote
//     streams (RTP, RTMP, WHEP)
//
// # Architecture
//
//	Host:   Init -> CreateSink(surface, ctx, rect) -> Attach(descriptor) -> Play
//	Stream: VideoSource -> [VideoDecoder] -> frameConverter -> PresentationElement -> draw
//	Draw:   map -> make current -> clear -> textured quad -> swap -> release -> unmap
//
// The draw callback runs on the pipeline's streaming goroutine. Hosts that
// render through the same context on their own thread must do so inside
// Sink.WithContext, which serializes against the draw callback.
//
// # Native Libraries
//
// The GL function table is loaded from libGL (Linux) or the OpenGL framework
// (macOS). Without cgo this uses purego; with cgo it links directly. Optional
// decoders load libmedia_vpx and libmedia_h264 at runtime. Set
// STREAM_SDK_LIB_PATH (or native.library_path in the config file) to the
// directory containing them.
package mediasink
