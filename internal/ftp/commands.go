// SPDX-License-Identifier: MIT

package ftp

import (
	"context"
	"strings"
	"time"
)

// command runs one serialized control-channel round trip.
func (s *Session) command(ctx context.Context, verb, format string, args ...any) (CommandResult, error) {
	if err := s.begin(); err != nil {
		return CommandResult{}, err
	}
	defer s.end()

	start := time.Now()
	reply, err := s.roundTrip(format, args...)
	latency := time.Since(start)
	s.emit(ctx, verb, reply, latency, err)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Reply: reply, Latency: latency}, nil
}

// Pwd returns the current working directory (PWD). The parsed path is the
// quoted portion of a 257 reply; callers still get the raw reply.
func (s *Session) Pwd(ctx context.Context) (string, CommandResult, error) {
	res, err := s.command(ctx, "PWD", "PWD")
	if err != nil {
		return "", res, err
	}
	return parsePwd(res.Reply), res, nil
}

func parsePwd(r Reply) string {
	if r.Code != 257 {
		return ""
	}
	first := strings.Index(r.Message, "\"")
	last := strings.LastIndex(r.Message, "\"")
	if first < 0 || last <= first {
		return ""
	}
	return strings.ReplaceAll(r.Message[first+1:last], `""`, `"`)
}

// Cwd changes the working directory (CWD).
func (s *Session) Cwd(ctx context.Context, path string) (CommandResult, error) {
	return s.command(ctx, "CWD", "CWD %s", path)
}

// Mkd creates a directory (MKD).
func (s *Session) Mkd(ctx context.Context, path string) (CommandResult, error) {
	return s.command(ctx, "MKD", "MKD %s", path)
}

// Dele deletes a file (DELE).
func (s *Session) Dele(ctx context.Context, path string) (CommandResult, error) {
	return s.command(ctx, "DELE", "DELE %s", path)
}

// Mlst returns machine-readable facts for one path (MLST, control channel
// only). The raw multiline reply carries the fact line.
func (s *Session) Mlst(ctx context.Context, path string) (CommandResult, error) {
	return s.command(ctx, "MLST", "MLST %s", path)
}

// Rename renames a file via the RNFR/RNTO pair. If RNFR is refused the
// refusal is returned as the result without sending RNTO.
func (s *Session) Rename(ctx context.Context, from, to string) (CommandResult, error) {
	if err := s.begin(); err != nil {
		return CommandResult{}, err
	}
	defer s.end()

	start := time.Now()
	reply, err := s.roundTrip("RNFR %s", from)
	if err != nil {
		s.emit(ctx, "RNFR", reply, time.Since(start), err)
		return CommandResult{}, err
	}
	if reply.Code != 350 {
		res := CommandResult{Reply: reply, Latency: time.Since(start)}
		s.emit(ctx, "RNFR", reply, res.Latency, nil)
		return res, nil
	}

	reply, err = s.roundTrip("RNTO %s", to)
	latency := time.Since(start)
	s.emit(ctx, "RNTO", reply, latency, err)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Reply: reply, Latency: latency}, nil
}
