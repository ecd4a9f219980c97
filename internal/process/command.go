package process

import (
	"bytes"
	"os/user"
	"strings"
	"sync"
)

// sudoPrefix runs the command non-interactively, keeping the environment.
var sudoPrefix = []string{"/usr/bin/sudo", "-n", "-E"}

// maxOutput bounds the captured stdout+stderr of a command.
const maxOutput = 64 << 10

// BuildArgv splits command on whitespace, dropping empty tokens, and
// prefixes sudo unless the caller is root.
func BuildArgv(command string, isRoot bool) []string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	if isRoot {
		return fields
	}
	return append(append([]string(nil), sudoPrefix...), fields...)
}

func currentUserIsRoot() bool {
	u, err := user.Current()
	return err == nil && u.Username == "root"
}

// outputBuffer keeps the first maxOutput bytes written to it. Writes past
// the cap are discarded but reported as successful so the child never
// blocks on a full pipe.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := maxOutput - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
