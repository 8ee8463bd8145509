// Package mlf reads HTK master label files (MLF) and state list files,
// producing per-frame class id sequences keyed by utterance.
//
// An MLF starts with the "#!MLF!#" magic line, followed by one section per
// utterance:
//
//	"*/utt1.lab"
//	0 300000 sil
//	300000 1200000 ax_s2
//	.
//
// Times are in 100 ns units; dividing by the frame period (100000 = 10 ms)
// yields frame indices. A state list file maps state names to class ids in
// order of appearance, blank lines skipped.
//
// All class ids for all utterances are concatenated into one backing array
// at load time; label data is small relative to features and stays
// resident for the life of the corpus (features page in and out, labels do
// not).
package mlf

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samjabrahams/CNTK/pkg/storage"
)

const magic = "#!MLF!#"

// FramePeriod is the label time quantum in 100 ns units (10 ms frames).
const FramePeriod = 100000

// ErrNoStateList is returned when an MLF uses state names but no state
// list was provided.
var ErrNoStateList = errors.New("mlf: state name used without a state list")

// ClassID is the integer label attached to one frame.
type ClassID = uint16

// MaxClasses bounds the state inventory; ids are stored as uint16.
const MaxClasses = 1 << 16

// Labels holds per-frame class ids for every utterance of a label archive.
type Labels struct {
	numClasses int
	classIDs   []ClassID
	spans      map[string]span // utterance key -> range in classIDs
}

type span struct {
	begin int
	n     int
}

// ReadStateList loads a state list file: one state name per line, class id
// equal to the number of states listed before it (blank lines skipped).
func ReadStateList(ctx context.Context, store storage.FileStore, path string) (map[string]ClassID, error) {
	rc, err := store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("mlf: open state list %s: %w", path, err)
	}
	defer rc.Close()

	states := make(map[string]ClassID)
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if _, dup := states[name]; dup {
			return nil, fmt.Errorf("mlf: state list %s: duplicate state %q", path, name)
		}
		if len(states) >= MaxClasses {
			return nil, fmt.Errorf("mlf: state list %s: more than %d states", path, MaxClasses)
		}
		states[name] = ClassID(len(states))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("mlf: read state list %s: %w", path, err)
	}
	return states, nil
}

// Options configures MLF loading.
type Options struct {
	// States maps state names to class ids. Required when label lines
	// carry state names; may be nil for purely numeric labels.
	States map[string]ClassID

	// Logger receives warnings about duplicate utterance sections
	// (unparseable lines are returned as errors). Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Read loads one or more MLF files.
func Read(ctx context.Context, store storage.FileStore, paths []string, opts Options) (*Labels, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	l := &Labels{
		numClasses: len(opts.States),
		spans:      make(map[string]span),
	}
	for _, path := range paths {
		if err := l.readFile(ctx, store, path, opts.States, log); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Labels) readFile(ctx context.Context, store storage.FileStore, path string, states map[string]ClassID, log *slog.Logger) error {
	rc, err := store.Read(ctx, path)
	if err != nil {
		return fmt.Errorf("mlf: open %s: %w", path, err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !sc.Scan() {
		return fmt.Errorf("mlf: %s: empty file", path)
	}
	if strings.TrimSpace(sc.Text()) != magic {
		return fmt.Errorf("mlf: %s: missing %s header", path, magic)
	}

	var (
		key     string
		begin   int
		lineNum = 1
	)
	flush := func() {
		if key == "" {
			return
		}
		if _, dup := l.spans[key]; dup {
			log.Warn("mlf: duplicate utterance, keeping first", "path", path, "key", key)
			l.classIDs = l.classIDs[:begin]
		} else {
			l.spans[key] = span{begin: begin, n: len(l.classIDs) - begin}
		}
		key = ""
	}
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case line == ".":
			flush()
		case strings.HasPrefix(line, "\""):
			name := strings.Trim(line, "\"")
			key = sectionKey(name)
			begin = len(l.classIDs)
		default:
			if key == "" {
				return fmt.Errorf("mlf: %s:%d: label line outside a section", path, lineNum)
			}
			if err := l.appendLine(line, states); err != nil {
				return fmt.Errorf("mlf: %s:%d: %w", path, lineNum, err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("mlf: read %s: %w", path, err)
	}
	flush()
	return nil
}

// appendLine parses one label line and appends its frame span.
// Accepted forms: "start end state", "state" (single frame), and a bare
// numeric class id in either position.
func (l *Labels) appendLine(line string, states map[string]ClassID) error {
	fields := strings.Fields(line)
	var (
		numFrames = 1
		stateName string
	)
	switch len(fields) {
	case 1:
		stateName = fields[0]
	case 3, 4: // trailing score field is ignored
		start, err1 := strconv.ParseInt(fields[0], 10, 64)
		end, err2 := strconv.ParseInt(fields[1], 10, 64)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("bad time pair %q %q", fields[0], fields[1])
		}
		if start%FramePeriod != 0 || end%FramePeriod != 0 {
			return fmt.Errorf("times %d..%d not multiples of the frame period", start, end)
		}
		if end <= start {
			return fmt.Errorf("empty time span %d..%d", start, end)
		}
		numFrames = int((end - start) / FramePeriod)
		stateName = fields[2]
	default:
		return fmt.Errorf("unrecognized label line %q", line)
	}

	var id ClassID
	if states != nil {
		var ok bool
		id, ok = states[stateName]
		if !ok {
			return fmt.Errorf("unknown state %q", stateName)
		}
	} else {
		v, err := strconv.ParseUint(stateName, 10, 16)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrNoStateList, stateName)
		}
		id = ClassID(v)
		if int(id) >= l.numClasses {
			l.numClasses = int(id) + 1
		}
	}
	for range numFrames {
		l.classIDs = append(l.classIDs, id)
	}
	return nil
}

// sectionKey normalizes a section name: the leading "*/" wildcard and the
// extension are stripped, matching feature-side utterance keys.
func sectionKey(name string) string {
	name = strings.TrimPrefix(name, "*/")
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case '.':
			return name[:i]
		case '/', '\\', ':':
			return name
		}
	}
	return name
}

// NumClasses returns the size of the state inventory.
func (l *Labels) NumClasses() int { return l.numClasses }

// NumUtterances returns the number of labeled utterances.
func (l *Labels) NumUtterances() int { return len(l.spans) }

// Frames returns the per-frame class id sequence for an utterance key.
// The returned slice aliases internal storage; callers must not modify it.
func (l *Labels) Frames(key string) ([]ClassID, bool) {
	s, ok := l.spans[key]
	if !ok {
		return nil, false
	}
	return l.classIDs[s.begin : s.begin+s.n], true
}
