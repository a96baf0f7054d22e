package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolveLibrary finds the ONNX Runtime shared library. Bare file names are
// looked up next to the executable and in the working directory; if neither
// has it the name is returned unchanged for the dynamic loader to resolve.
func resolveLibrary(lib string) (string, error) {
	if filepath.Base(lib) != lib {
		if _, err := os.Stat(lib); err != nil {
			return "", fmt.Errorf("onnxruntime library not found: %s", lib)
		}
		return filepath.Abs(lib)
	}

	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe), filepath.Join(filepath.Dir(exe), "lib"))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd, filepath.Join(wd, "lib"))
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, lib)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return lib, nil
}

// resolveModel validates the model path and makes it absolute.
func resolveModel(modelPath string) (string, error) {
	absModelPath, err := filepath.Abs(filepath.Clean(modelPath))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for model: %w", err)
	}
	if _, err := os.Stat(absModelPath); os.IsNotExist(err) {
		return "", fmt.Errorf("model file not found: %s", absModelPath)
	}
	return absModelPath, nil
}
