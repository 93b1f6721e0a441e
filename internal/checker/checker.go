// Package checker implements C7, compiling and caching testlib-style
// checkers so a given source digest is compiled once no matter how many
// concurrent evaluations reference it. Interactors are not handled here.
//
// Grounded on internal/checkers/testlib.go's TestlibCompiler and
// internal/testlib/{testlib,compile}.go, generalized to compile through
// the shared Executor (rather than a standalone isolate box) so checker
// compilation goes through the same Thread Guard admission every other
// execution does, and to fetch testlib.h through net/http with an XDG
// cache directory instead of a hardcoded "data/testlib.h" path.
package checker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/lvgrader/grader/internal/executor"
	"github.com/lvgrader/grader/internal/model"
	"github.com/lvgrader/grader/internal/store"
)

const (
	sourceFname   = "checker.cpp"
	compileCmd    = "g++ -std=c++17 -O2 -o checker checker.cpp -I ."
	compiledFname = "checker"

	testlibHeaderURL = "https://raw.githubusercontent.com/MikeMirzayanov/testlib/master/testlib.h"
)

// Compiler compiles and caches testlib-convention checkers.
type Compiler struct {
	exec     *executor.Executor
	store    *store.Store
	cacheDir string
	inflight sync.Map // sha256(source) -> chan struct{}

	testlibOnce sync.Once
	testlibErr  error
	testlibPath string
}

// New creates a Compiler that caches compiled checkers under cacheDir.
func New(exec *executor.Executor, st *store.Store, cacheDir string) *Compiler {
	return &Compiler{exec: exec, store: st, cacheDir: cacheDir, testlibPath: filepath.Join(cacheDir, "testlib.h")}
}

// Compile returns the compiled checker binary for sourceCode, compiling it
// (exclusively, so it never competes with concurrent submission runs) the
// first time a given source digest is seen and serving the cached binary
// to every later caller with the same source.
func (c *Compiler) Compile(ctx context.Context, sourceCode string) ([]byte, error) {
	digest := sha256Hex(sourceCode)
	path := filepath.Join(c.cacheDir, digest)

	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	waitCh, loaded := c.inflight.LoadOrStore(digest, make(chan struct{}))
	ch := waitCh.(chan struct{})
	if loaded {
		<-ch
		return os.ReadFile(path)
	}
	defer func() {
		close(ch)
		c.inflight.Delete(digest)
	}()

	compiled, err := c.compile(ctx, sourceCode)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(c.cacheDir, 0o777); err != nil {
		return nil, fmt.Errorf("create checker cache dir: %w", err)
	}
	if err := os.WriteFile(path, compiled, 0o755); err != nil {
		return nil, fmt.Errorf("write compiled checker: %w", err)
	}
	os.WriteFile(path+".cpp", []byte(sourceCode), 0o644)

	return compiled, nil
}

func (c *Compiler) compile(ctx context.Context, sourceCode string) ([]byte, error) {
	header, err := c.testlib(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.exec.Execute(ctx, model.RunRequest{
		Command: compileCmd,
		Inputs: []model.FileInfo{
			{Path: sourceFname, InlineContent: []byte(sourceCode)},
			{Path: "testlib.h", InlineContent: header},
		},
		OutputNames: []string{compiledFname},
		Limits: model.ResourceLimits{
			CPUTimeMillis:  10_000,
			WallTimeMillis: 20_000,
			MemoryKiBytes:  1_048_576,
		},
		Exclusive: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("compile checker: %w", err)
	}
	if result.Classification != model.ClassSuccess {
		return nil, fmt.Errorf("checker compilation failed (%s): %s", result.Classification, result.Stderr)
	}
	if len(result.OutputFiles) == 0 {
		return nil, fmt.Errorf("checker compilation produced no %s binary", compiledFname)
	}

	r, err := c.store.Open(result.OutputFiles[0].Digest)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// testlib returns the cached testlib.h contents, fetching it once over
// HTTP the first time it's needed. Grounded on internal/storage/testlib.go.
func (c *Compiler) testlib(ctx context.Context) ([]byte, error) {
	c.testlibOnce.Do(func() {
		if _, err := os.ReadFile(c.testlibPath); err == nil {
			return
		}
		if err := os.MkdirAll(filepath.Dir(c.testlibPath), 0o777); err != nil {
			c.testlibErr = err
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, testlibHeaderURL, nil)
		if err != nil {
			c.testlibErr = err
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			c.testlibErr = err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.testlibErr = fmt.Errorf("fetch testlib.h: unexpected status %s", resp.Status)
			return
		}
		out, err := os.Create(c.testlibPath)
		if err != nil {
			c.testlibErr = err
			return
		}
		defer out.Close()
		if _, err := io.Copy(out, resp.Body); err != nil {
			c.testlibErr = err
			return
		}
	})
	if c.testlibErr != nil {
		return nil, c.testlibErr
	}
	return os.ReadFile(c.testlibPath)
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
