package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// maxLine bounds a single log line. Popup hrefs are the only unbounded field.
const maxLine = 1 << 20

// VerifyResult is the outcome of Verify. ErrorLine is 1-based and zero when
// the failure is not tied to a line.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

func broken(line int, format string, args ...any) VerifyResult {
	return VerifyResult{Error: fmt.Sprintf(format, args...), ErrorLine: line}
}

// Verify replays the chain of the log at path. Each entry must name the hash
// of the raw line before it, and the first must name GenesisHash.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(nil, maxLine)

	want := GenesisHash
	n := 0
	for sc.Scan() {
		n++
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return broken(n, "parse error: %v", err)
		}
		if e.Event == "" {
			return broken(n, "parse error: %v", errors.New("entry without event"))
		}

		switch {
		case e.PrevHash == want:
		case n == 1:
			return broken(n, "first entry prev_hash is %q, expected genesis hash", e.PrevHash)
		default:
			return broken(n, "hash mismatch: expected %s, got %s", want, e.PrevHash)
		}
		// sc.Bytes is only valid until the next Scan; hash it now
		want = HashLine(sc.Bytes())
	}
	if err := sc.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: n}
}
