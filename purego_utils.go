//go:build darwin || linux

// Shared utilities for purego-based native bindings.

package mediasink

import (
	"os"
	"path/filepath"
	"runtime"
	"unsafe"
)

// sharedLibName returns base with the platform's shared library extension.
func sharedLibName(base string) string {
	if runtime.GOOS == "darwin" {
		return base + ".dylib"
	}
	return base + ".so"
}

// nativeLibPaths lists candidate locations for libName, most specific
// first: the exact-path env var, the configured directory, STREAM_SDK_LIB_PATH,
// then paths relative to the executable, the working directory and the
// module root.
func nativeLibPaths(libName, envVar string) []string {
	var paths []string

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" {
			paths = append(paths, envPath)
		}
	}
	if dir := configuredLibraryDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, libName))
	}
	if envPath := os.Getenv("STREAM_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
			filepath.Join(exeDir, "..", "..", "build", libName),
		)
	}

	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "..", "build", libName),
			filepath.Join(wd, "..", "..", "build", libName),
		)
	}

	if root := findModuleRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", libName))
	}

	if runtime.GOOS == "darwin" {
		paths = append(paths,
			"/opt/homebrew/lib/"+libName,
			"/usr/local/lib/"+libName,
		)
	} else {
		paths = append(paths,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
			"/usr/lib/x86_64-linux-gnu/"+libName,
			"/usr/lib/aarch64-linux-gnu/"+libName,
		)
	}
	paths = append(paths, libName)

	return paths
}

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for {
		if *(*byte)(unsafe.Add(p, length)) == 0 {
			break
		}
		length++
		if length > 1024 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// findModuleRoot walks up from the working directory to the directory
// containing go.mod.
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
