package access

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

var ErrNoIdentities = errors.New("no allowed identities configured")

// Policy is the set of identities allowed to use the bridge: a fixed list
// from configuration plus the contents of an optional file that can be
// reloaded while running.
type Policy struct {
	static []string
	file   string
	logger *slog.Logger

	mu      sync.RWMutex
	allowed map[string]struct{}
}

func NewPolicy(static []string, file string, logger *slog.Logger) (*Policy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy := &Policy{
		static: append([]string(nil), static...),
		file:   strings.TrimSpace(file),
		logger: logger.With("component", "access"),
	}
	if err := policy.Reload(); err != nil {
		return nil, err
	}
	return policy, nil
}

// File is the reloadable allow-list path, empty when none is configured.
func (p *Policy) File() string {
	return p.file
}

func (p *Policy) Allowed(identity string) bool {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.allowed[identity]
	return ok
}

// Reload re-reads the allow-list file. On error the previous set stays active.
func (p *Policy) Reload() error {
	next := map[string]struct{}{}
	for _, identity := range p.static {
		if identity = strings.TrimSpace(identity); identity != "" {
			next[identity] = struct{}{}
		}
	}
	if p.file != "" {
		fromFile, err := readIdentities(p.file)
		if err != nil {
			return err
		}
		for _, identity := range fromFile {
			next[identity] = struct{}{}
		}
	}
	if len(next) == 0 {
		return ErrNoIdentities
	}
	p.mu.Lock()
	p.allowed = next
	p.mu.Unlock()
	p.logger.Info("allow-list loaded", "identities", len(next))
	return nil
}

func (p *Policy) Identities() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]string, 0, len(p.allowed))
	for identity := range p.allowed {
		result = append(result, identity)
	}
	sort.Strings(result)
	return result
}

// readIdentities parses one identity per line. Blank lines and "#" comments
// are skipped; commas also separate identities.
func readIdentities(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open allow-list: %w", err)
	}
	defer file.Close()

	identities := []string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if index := strings.Index(line, "#"); index >= 0 {
			line = line[:index]
		}
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				identities = append(identities, part)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allow-list: %w", err)
	}
	return identities, nil
}
