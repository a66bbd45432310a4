package screenshare

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"

	"screenshare/mcp"
)

// LogStreams implements mcp.LogHandler interface.
func (s *Server) LogStreams() iter.Seq[mcp.LogParams] {
	return func(yield func(mcp.LogParams) bool) {
		for {
			select {
			case <-s.done:
				return
			case params := <-s.logs:
				if !yield(params) {
					return
				}
			}
		}
	}
}

// SetLogLevel implements mcp.LogHandler interface.
func (s *Server) SetLogLevel(level mcp.LogLevel) {
	s.logMu.Lock()
	s.logLevel = level
	s.logMu.Unlock()
}

func (s *Server) log(level mcp.LogLevel, msg string) {
	s.logger.Log(context.Background(), slogLevel(level), msg)

	s.logMu.Lock()
	minLevel := s.logLevel
	s.logMu.Unlock()

	if level < minLevel {
		return
	}

	type logData struct {
		Message string `json:"message"`
	}
	dataBs, _ := json.Marshal(logData{Message: msg})

	select {
	case s.logs <- mcp.LogParams{
		Level:  level,
		Logger: "screenshare",
		Data:   dataBs,
	}:
	default:
		// Nothing is draining the stream; drop rather than block the capture path.
	}
}

func slogLevel(level mcp.LogLevel) slog.Level {
	switch {
	case level <= mcp.LogLevelDebug:
		return slog.LevelDebug
	case level <= mcp.LogLevelNotice:
		return slog.LevelInfo
	case level == mcp.LogLevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
