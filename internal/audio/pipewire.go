package audio

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// PipeWire lists and validates PipeWire capture ports
type PipeWire struct{}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{}
}

// ListPorts returns the output ports PipeWire can record from
func (pw *PipeWire) ListPorts(ctx context.Context) ([]string, error) {
	output, err := runCommand(ctx, "pw-link", "-o")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// ValidatePort checks that a configured port exists exactly once
func (pw *PipeWire) ValidatePort(ctx context.Context, portName string) error {
	if portName == "" {
		return nil
	}

	ports, err := pw.ListPorts(ctx)
	if err != nil {
		return err
	}
	return validatePortIn(portName, ports)
}

func validatePortIn(portName string, ports []string) error {
	duplicates := findDuplicates(portName, ports)
	switch {
	case len(duplicates) == 0:
		return fmt.Errorf("port not found: %s", portName)
	case len(duplicates) > 1:
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}
	return nil
}

func findDuplicates(name string, all []string) []string {
	var matches []string
	for _, candidate := range all {
		if candidate == name {
			matches = append(matches, candidate)
		}
	}
	return matches
}

// ALSA lists capture devices through arecord
type ALSA struct{}

var arecordCard = regexp.MustCompile(`^card (\d+): ([^,]+), device (\d+): (.*)$`)

// ListPorts returns devices as "hw:CARD,DEVICE name" strings
func (a *ALSA) ListPorts(ctx context.Context) ([]string, error) {
	output, err := runCommand(ctx, "arecord", "-l")
	if err != nil {
		return nil, fmt.Errorf("failed to list ALSA capture devices: %w", err)
	}
	return parseArecordList(string(output)), nil
}

// ValidatePort accepts ALSA plugin names as well as listed hw devices.
func (a *ALSA) ValidatePort(ctx context.Context, device string) error {
	if device == "" || !strings.HasPrefix(device, "hw:") && !strings.HasPrefix(device, "plughw:") {
		return nil
	}

	ports, err := a.ListPorts(ctx)
	if err != nil {
		return err
	}
	want := strings.TrimPrefix(device, "plug")
	for _, p := range ports {
		if strings.SplitN(p, " ", 2)[0] == want {
			return nil
		}
	}
	return fmt.Errorf("capture device not found: %s", device)
}

func parseArecordList(output string) []string {
	var devices []string
	for _, line := range strings.Split(output, "\n") {
		m := arecordCard.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		devices = append(devices, fmt.Sprintf("hw:%s,%s %s", m[1], m[3], strings.TrimSpace(m[4])))
	}
	return devices
}

// SourceLister is implemented by backends that can enumerate capture sources.
type SourceLister interface {
	ListPorts(ctx context.Context) ([]string, error)
	ValidatePort(ctx context.Context, name string) error
}

// ListerFor returns the source lister for b, or nil for backends that
// capture from the default PulseAudio source.
func ListerFor(b BackendType) SourceLister {
	switch b {
	case BackendTypePipeWire:
		return NewPipeWire()
	case BackendTypeALSA:
		return &ALSA{}
	}
	return nil
}

// Sources lists capture sources for the configured backend
func Sources(ctx context.Context, backend BackendType) ([]string, error) {
	resolved, err := ResolveBackend(backend)
	if err != nil {
		return nil, err
	}

	lister := ListerFor(resolved)
	if lister == nil {
		slog.Debug("Backend records from the default source", "backend", resolved)
		return []string{"default"}, nil
	}
	return lister.ListPorts(ctx)
}
