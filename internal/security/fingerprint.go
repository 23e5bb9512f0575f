// Package security provides device identification for license binding.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// DeviceFingerprint is the stable identity of the current machine, built
// from hardware factors and hashed to an opaque hex string.
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	CPUInfo     string    `json:"cpu_info"`
	OS          string    `json:"os"`
	Arch        string    `json:"arch"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintProvider generates and caches the device fingerprint. The
// fingerprint is deterministic across calls on the same machine, so the
// cache only avoids re-reading interfaces and /proc.
type FingerprintProvider struct {
	cache       *DeviceFingerprint
	cacheMutex  sync.RWMutex
	cacheExpiry time.Time
	cacheTTL    time.Duration
}

// NewFingerprintProvider creates a provider with a one-hour cache.
func NewFingerprintProvider() *FingerprintProvider {
	return &FingerprintProvider{cacheTTL: time.Hour}
}

// Fingerprint returns the opaque device fingerprint string. This is the
// single function the license core consumes.
func (p *FingerprintProvider) Fingerprint() (string, error) {
	fp, err := p.Generate()
	if err != nil {
		return "", err
	}
	return fp.Fingerprint, nil
}

// Generate builds the full fingerprint, serving from cache when fresh.
func (p *FingerprintProvider) Generate() (*DeviceFingerprint, error) {
	p.cacheMutex.RLock()
	if p.cache != nil && time.Now().Before(p.cacheExpiry) {
		cached := *p.cache
		p.cacheMutex.RUnlock()
		return &cached, nil
	}
	p.cacheMutex.RUnlock()

	mac, err := primaryMACAddress()
	if err != nil {
		mac = "unknown-mac"
		slog.Warn("failed to get MAC address, using fallback", slog.String("error", err.Error()))
	}

	hostname, err := normalizedHostname()
	if err != nil {
		hostname = "unknown-host"
		slog.Warn("failed to get hostname, using fallback", slog.String("error", err.Error()))
	}

	cpuInfo := cpuIdentifier()

	factors := strings.Join([]string{mac, hostname, cpuInfo, runtime.GOOS, runtime.GOARCH}, "|")
	sum := sha256.Sum256([]byte(factors))

	fp := &DeviceFingerprint{
		Fingerprint: hex.EncodeToString(sum[:]),
		Hostname:    hostname,
		MACAddress:  mac,
		CPUInfo:     cpuInfo,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	p.cacheMutex.Lock()
	p.cache = fp
	p.cacheExpiry = time.Now().Add(p.cacheTTL)
	p.cacheMutex.Unlock()

	slog.Debug("device fingerprint generated",
		slog.String("fingerprint", fp.Fingerprint),
		slog.String("hostname", hostname),
		slog.String("os", runtime.GOOS),
	)
	return fp, nil
}

// ClearCache drops the cached fingerprint.
func (p *FingerprintProvider) ClearCache() {
	p.cacheMutex.Lock()
	defer p.cacheMutex.Unlock()
	p.cache = nil
	p.cacheExpiry = time.Time{}
}

// primaryMACAddress picks the MAC of the first up, non-loopback interface,
// falling back to any interface with a hardware address.
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	return "", fmt.Errorf("no usable MAC address found")
}

func normalizedHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("get hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return hostname, nil
}

// cpuIdentifier derives a short stable CPU id per platform. Always
// succeeds; unsupported platforms fall back to GOOS-GOARCH.
func cpuIdentifier() string {
	var raw string
	switch runtime.GOOS {
	case "windows":
		raw = os.Getenv("PROCESSOR_IDENTIFIER")
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					raw = line
					break
				}
			}
		}
	}
	if raw == "" {
		raw = fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}
