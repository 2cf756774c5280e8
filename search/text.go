package search

import (
	"bytes"
	"context"

	"ptrtrail/deepread"
	"ptrtrail/process"
	"ptrtrail/process_blob"

	"github.com/samber/lo"
)

// TextMatch is an address where a text fragment was found and the encoding it
// was found in
type TextMatch struct {
	Address  process.ProcessMemoryAddress
	Encoding string
}

// textEncodings lists the byte forms a fragment is searched in, in order
func textEncodings(text string) []struct {
	name string
	data []byte
} {
	return []struct {
		name string
		data []byte
	}{
		{"utf-16le", deepread.EncodeUTF16LE(text)},
		{"utf-8", []byte(text)},
	}
}

// FindTextIn locates text inside a snapshot, trying UTF-16LE before UTF-8
func FindTextIn(snap *process_blob.Snapshot, text string) []TextMatch {
	if text == "" {
		return nil
	}

	var matches []TextMatch
	data := snap.Data()
	for _, enc := range textEncodings(text) {
		if len(enc.data) == 0 {
			continue
		}
		for start := 0; start <= len(data)-len(enc.data); {
			i := bytes.Index(data[start:], enc.data)
			if i < 0 {
				break
			}
			matches = append(matches, TextMatch{Address: snap.AddressOf(start + i), Encoding: enc.name})
			start += i + 1
		}
	}

	return lo.UniqBy(matches, func(m TextMatch) process.ProcessMemoryAddress {
		return m.Address
	})
}

// FindText locates text in every readable region of proc, trying UTF-16LE
// before UTF-8. Matches are ordered by encoding then address.
func (s *Searcher) FindText(ctx context.Context, proc process.Process, text string, maxdop int) ([]TextMatch, error) {
	if text == "" {
		return nil, ErrEmptyPattern
	}

	var matches []TextMatch
	for _, enc := range textEncodings(text) {
		addrs, err := s.ScanProcess(ctx, proc, AOB{Pattern: enc.data}, maxdop)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			matches = append(matches, TextMatch{Address: a, Encoding: enc.name})
		}
	}

	return lo.UniqBy(matches, func(m TextMatch) process.ProcessMemoryAddress {
		return m.Address
	}), nil
}
