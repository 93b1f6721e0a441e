package sandbox

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/lvgrader/grader/internal/gradererr"
	"github.com/lvgrader/grader/internal/model"
)

// Process wraps one isolate invocation. Grounded on
// internal/isolate/process.go's Cmd, unified with box.go's Run (the
// teacher's Box.Run returned a *Process built independently of Cmd;
// this type is the single merged replacement for both).
type Process struct {
	cmd          *exec.Cmd
	metaFilePath string
	started      bool
	cmdOut       *bytes.Buffer
	cmdErr       *bytes.Buffer
}

func newMetaFilePath() (string, error) {
	f, err := os.CreateTemp("", "isolate-meta-*.txt")
	if err != nil {
		return "", err
	}
	path := f.Name()
	f.Close()
	return path, nil
}

func startProcess(boxID int, metaFilePath, command string, stdin []byte, limits model.ResourceLimits) (*Process, error) {
	args := []string{"--cg", "--box-id", fmt.Sprint(boxID), "--env=HOME=/box", "--meta=" + metaFilePath}
	args = append(args, isolateArgs(limits)...)
	args = append(args, "--run", "/usr/bin/env")
	args = append(args, strings.Fields(command)...)

	cmd := exec.Command("isolate", args...)
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p := &Process{cmd: cmd, metaFilePath: metaFilePath}

	err := withExtraRlimits(limits, func() error {
		p.started = true
		return cmd.Start()
	})
	if err != nil {
		return nil, gradererr.New(gradererr.KindSandboxSetup, "process.Start", err)
	}
	p.cmdOut, p.cmdErr = &stdout, &stderr
	return p, nil
}

// Wait blocks for the sandboxed process to finish and reads its measured
// usage from isolate's meta file. The only classification it applies is
// isolate's own internal error (status XX); limit, signal and exit-code
// classification is left to the executor.
func (p *Process) Wait() (*model.ExecutionInfo, error) {
	if !p.started {
		panic("process.Wait called before Start")
	}
	waitErr := p.cmd.Wait()
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !isExitError(waitErr, &exitErr) {
			return nil, gradererr.New(gradererr.KindSandboxSetup, "process.Wait", waitErr)
		}
	}

	metaBytes, err := os.ReadFile(p.metaFilePath)
	defer os.Remove(p.metaFilePath)
	if err != nil {
		return nil, gradererr.New(gradererr.KindSandboxSetup, "process.Wait", err)
	}
	meta, err := parseMetaFile(metaBytes)
	if err != nil {
		return nil, gradererr.New(gradererr.KindSandboxSetup, "process.Wait", err)
	}

	info := &model.ExecutionInfo{
		ExitCode:       meta.ExitCode,
		CPUTimeMillis:  int64(meta.TimeSec * 1000),
		WallTimeMillis: int64(meta.TimeWallSec * 1000),
		MemoryKiBytes:  meta.MaxRssKb,
		CtxSwVoluntary: meta.CswVoluntary,
		CtxSwForced:    meta.CswForced,
		Message:        meta.Message,
	}
	if p.cmdOut != nil {
		info.Stdout = p.cmdOut.Bytes()
	}
	if p.cmdErr != nil {
		info.Stderr = p.cmdErr.Bytes()
	}

	info.Classification = classify(meta)
	if meta.Status == "SG" {
		sig := meta.ExitCode
		info.ExitSignal = &sig
	}
	return info, nil
}

func isExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// classify reports only what isolate itself is authoritative about: a
// sandbox setup failure (status XX). Limit-vs-usage classification
// (memory/cpu/wall/signal/nonzero/success, in that precedence) is the
// local executor's job per its Execute contract, applied against the
// caller's original, unscaled limits rather than isolate's own internal
// status guess.
func classify(m metrics) model.Classification {
	if m.Status == "XX" {
		return model.ClassInternal
	}
	return model.ClassSuccess
}

// metrics is the parsed form of isolate's --meta file. Grounded on
// internal/isolate/metrics.go's IsolateMetrics.
type metrics struct {
	TimeSec      float64
	TimeWallSec  float64
	MaxRssKb     int64
	CswVoluntary int64
	CswForced    int64
	CgMemKb      int64
	ExitCode     int64
	Status       string
	Message      string
}

func parseMetaFile(data []byte) (metrics, error) {
	var m metrics
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		switch key {
		case "time":
			m.TimeSec, _ = strconv.ParseFloat(val, 64)
		case "time-wall":
			m.TimeWallSec, _ = strconv.ParseFloat(val, 64)
		case "max-rss":
			m.MaxRssKb, _ = strconv.ParseInt(val, 10, 64)
		case "csw-voluntary":
			m.CswVoluntary, _ = strconv.ParseInt(val, 10, 64)
		case "csw-forced":
			m.CswForced, _ = strconv.ParseInt(val, 10, 64)
		case "cg-mem":
			m.CgMemKb, _ = strconv.ParseInt(val, 10, 64)
		case "exitcode":
			m.ExitCode, _ = strconv.ParseInt(val, 10, 64)
		case "exitsig":
			m.ExitCode, _ = strconv.ParseInt(val, 10, 64)
		case "status":
			m.Status = val
		case "message":
			m.Message = val
		}
	}
	if err := scanner.Err(); err != nil {
		return m, err
	}
	return m, nil
}
