// Package delta encodes edits as byte-level insert/delete operations. A
// delta is the unit broadcast between peers; it is opaque to the channel
// layer and only interpreted here.
package delta

import "encoding/json"

// Op is a single byte insertion or deletion. Loc is an offset into the
// document as it was before the whole delta is applied.
type Op struct {
	Loc int  `json:"loc"`
	Ch  byte `json:"ch"`
	Add bool `json:"add"`
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Diff returns the operations (in increasing Loc order) that turn old
// into new.
func Diff(old, new string) []Op {
	dp := make([][]int, len(old)+1)
	dp[0] = make([]int, len(new)+1)

	for j := 0; j < len(new)+1; j++ {
		dp[0][j] = j
	}

	for i := 1; i < len(old)+1; i++ {
		dp[i] = make([]int, len(new)+1)
		dp[i][0] = i

		for j := 1; j < len(new)+1; j++ {
			dp[i][j] = min(dp[i][j-1], dp[i-1][j]) + 1

			if old[i-1] == new[j-1] && dp[i-1][j-1] < dp[i][j] {
				dp[i][j] = dp[i-1][j-1]
			}
		}
	}

	i := len(old)
	j := len(new)

	res := []Op{}

	// walk the table back, collecting ops in reverse
	for i > 0 || j > 0 {
		if i == 0 {
			res = append(res, Op{Add: true, Loc: i, Ch: new[j-1]})
			j--
		} else if j == 0 {
			res = append(res, Op{Add: false, Loc: i - 1, Ch: old[i-1]})
			i--
		} else if old[i-1] == new[j-1] && dp[i][j] == dp[i-1][j-1] {
			i--
			j--
		} else if dp[i][j] == dp[i][j-1]+1 {
			res = append(res, Op{Add: true, Loc: i, Ch: new[j-1]})
			j--
		} else {
			res = append(res, Op{Add: false, Loc: i - 1, Ch: old[i-1]})
			i--
		}
	}

	for i, j = 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}

	return res
}

// Apply runs ops (in increasing Loc order) against s and returns the
// resulting document. Locations past the end of s (possible when peers
// have diverged) are clamped rather than rejected; the conflict path
// catches the divergence at save time.
func Apply(s string, ops []Op) string {
	res := make([]byte, 0, len(s))

	i := 0
	for _, op := range ops {
		loc := op.Loc
		if loc > len(s) {
			loc = len(s)
		}
		if loc < i {
			loc = i
		}
		res = append(res, s[i:loc]...)
		i = loc

		if op.Add {
			res = append(res, op.Ch)
		} else if i < len(s) {
			i++
		}
	}
	if i < len(s) {
		res = append(res, s[i:]...)
	}

	return string(res)
}

// Encode serializes ops for the change event payload.
func Encode(ops []Op) (json.RawMessage, error) {
	return json.Marshal(ops)
}

// Decode parses a change event payload.
func Decode(raw json.RawMessage) ([]Op, error) {
	var ops []Op
	err := json.Unmarshal(raw, &ops)
	return ops, err
}
