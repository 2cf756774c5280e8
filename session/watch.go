package session

import (
	"context"
	"time"

	"ptrtrail/pointerpath"
	"ptrtrail/process"
)

// Update is a change of the watched text
type Update struct {
	Time    time.Time
	Address process.ProcessMemoryAddress
	Text    string
}

// Watch polls the text reached by path every interval and calls emit when it
// changes. The path is resolved once and again only when its address stops
// yielding text. Watch returns when ctx is done.
func (s *Session) Watch(ctx context.Context, path pointerpath.PointerPath, interval time.Duration, emit func(Update)) error {
	var addr process.ProcessMemoryAddress
	resolved := false

	return s.poll(ctx, interval, emit, func(proc process.Process) (process.ProcessMemoryAddress, string) {
		if !resolved {
			addr, resolved = s.resolveIn(proc, path)
			if !resolved {
				return 0, ""
			}
		}
		text := s.reader.ReadString(proc, addr)
		if text == "" {
			resolved = false
		}
		return addr, text
	})
}

// WatchAddress polls a fixed address, for targets where no path is known
func (s *Session) WatchAddress(ctx context.Context, addr process.ProcessMemoryAddress, interval time.Duration, emit func(Update)) error {
	return s.poll(ctx, interval, emit, func(proc process.Process) (process.ProcessMemoryAddress, string) {
		return addr, s.reader.ReadString(proc, addr)
	})
}

func (s *Session) poll(ctx context.Context, interval time.Duration, emit func(Update), read func(process.Process) (process.ProcessMemoryAddress, string)) error {
	if _, err := s.Process(); err != nil {
		return err
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		var addr process.ProcessMemoryAddress
		var text string
		s.op.Lock()
		if proc, err := s.Process(); err == nil {
			addr, text = read(proc)
		}
		s.op.Unlock()

		if text != "" && text != last {
			last = text
			emit(Update{Time: time.Now(), Address: addr, Text: text})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
