package feed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/andresuchdata/control-tower/internal/domain"
)

const maxLineBytes = 4 * 1024 * 1024

// PlatformFromName derives the platform from a feed file name like "ads/meta.jsonl".
func PlatformFromName(name string) domain.Platform {
	base := strings.ToLower(path.Base(name))
	return domain.Platform(strings.TrimSuffix(strings.TrimSuffix(base, ".jsonl"), ".json"))
}

// ReadAdRows splits a JSON Lines export into raw rows. Payload validation is
// left to the normalizer so every bad row is counted in one place.
func ReadAdRows(r io.Reader, platform domain.Platform, source string) ([]domain.RawPerformanceRow, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []domain.RawPerformanceRow
	line := 0
	for scanner.Scan() {
		line++
		payload := bytes.TrimSpace(scanner.Bytes())
		if len(payload) == 0 {
			continue
		}
		out = append(out, domain.RawPerformanceRow{
			Platform: platform,
			Payload:  append([]byte(nil), payload...),
			Source:   fmt.Sprintf("%s:%d", source, line),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	return out, nil
}
