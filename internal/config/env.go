package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Env resolves override variables. The process environment wins over
// values read from .env files, and earlier files win over later ones.
type Env struct {
	lookup func(string) (string, bool)
	file   map[string]string
}

// NewEnv reads the given .env files on top of the process environment.
// Missing files are skipped.
func NewEnv(paths ...string) (Env, error) {
	file := make(map[string]string)
	for _, path := range paths {
		vals, err := godotenv.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Env{}, fmt.Errorf("read %s: %w", path, err)
		}
		for k, v := range vals {
			if _, ok := file[k]; !ok {
				file[k] = v
			}
		}
	}
	return Env{lookup: os.LookupEnv, file: file}, nil
}

// MapEnv resolves variables from a fixed map only.
func MapEnv(vars map[string]string) Env {
	return Env{file: vars}
}

// Get returns the value of key and whether it is set.
func (e Env) Get(key string) (string, bool) {
	if e.lookup != nil {
		if v, ok := e.lookup(key); ok {
			return v, true
		}
	}
	v, ok := e.file[key]
	return v, ok
}
