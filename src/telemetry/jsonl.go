package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/DengYong4088/puffer/src/expconfig"
	"github.com/DengYong4088/puffer/src/monitor"
)

// MeasurementExperiment marks experiment metadata lines in a JSONL dump.
const MeasurementExperiment = "puffer_experiment"

// MaxLineBytes caps a single JSONL line.
const MaxLineBytes = 64 * 1024 * 1024

type jsonlRow struct {
	line int
	row  Row
}

// JSONLSource replays a JSONL dump: one object per line, each with a
// "measurement" field. puffer_experiment lines ({"id":..,"data":{..}}) are
// collected into an in-memory experiment store.
type JSONLSource struct {
	path        string
	rows        map[string][]jsonlRow
	experiments expconfig.MapStore
}

// OpenJSONL reads and indexes the whole dump.
func OpenJSONL(path string) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.path = path
	return s, nil
}

// ReadJSONL indexes a dump from r. Blank lines are skipped.
func ReadJSONL(r io.Reader) (*JSONLSource, error) {
	s := &JSONLSource{rows: map[string][]jsonlRow{}, experiments: expconfig.MapStore{}}
	reader := bufio.NewReader(r)
	lineNo := 0
readLoop:
	for {
		// Accumulate one logical line (may span multiple internal buffers)
		var line []byte
		for {
			part, rerr := reader.ReadBytes('\n')
			if len(part) > 0 {
				if len(line)+len(part) > MaxLineBytes {
					return nil, fmt.Errorf("line %d too large: exceeds %d bytes", lineNo+1, MaxLineBytes)
				}
				line = append(line, part...)
			}
			if rerr == nil {
				break
			}
			if errors.Is(rerr, io.EOF) {
				if len(line) == 0 {
					break readLoop
				}
				break
			}
			return nil, fmt.Errorf("read line %d: %w", lineNo+1, rerr)
		}
		lineNo++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := s.add(lineNo, line); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *JSONLSource) add(lineNo int, line []byte) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var row Row
	if err := dec.Decode(&row); err != nil {
		return fmt.Errorf("line %d: %w", lineNo, err)
	}
	m, _ := row["measurement"].(string)
	switch m {
	case "":
		return fmt.Errorf("line %d: missing measurement", lineNo)
	case MeasurementExperiment:
		id, err := row.intCol("id")
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		cfg, err := expconfig.DecodeConfig(row["data"])
		if err != nil {
			return fmt.Errorf("line %d: experiment %d: %w", lineNo, id, err)
		}
		s.experiments[id] = cfg
	default:
		s.rows[m] = append(s.rows[m], jsonlRow{line: lineNo, row: row})
	}
	return nil
}

// Experiments returns the experiment configs found in the dump.
func (s *JSONLSource) Experiments() expconfig.MapStore { return s.experiments }

// Query implements Source.
func (s *JSONLSource) Query(ctx context.Context, measurement string, since time.Time) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Row
	for _, jr := range s.rows[measurement] {
		ts, err := jr.row.timeCol("time")
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", jr.line, err)
		}
		if ts.Before(since) {
			continue
		}
		out = append(out, jr.row)
	}
	monitor.Debugf("[jsonl] %s: %d of %d points since %s", measurement, len(out), len(s.rows[measurement]), since.Format(time.RFC3339))
	return out, nil
}

// Close implements Source.
func (s *JSONLSource) Close() error { return nil }
