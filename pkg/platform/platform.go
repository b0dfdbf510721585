// Package platform captures a frozen description of the host a
// benchmark ran on. It participates in snapshot identity (spec §3):
// two runs on different hardware are never considered the same point.
//
// Collection follows the same approach the rest of this repository's
// host-introspection code uses: read /proc directly rather than shell
// out to a system-info library, since none of this module's
// dependencies provide one.
package platform

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Platform is an immutable host descriptor.
type Platform struct {
	RuntimeImpl    string `json:"runtime_impl"`
	RuntimeVersion string `json:"runtime_version"`
	OSSystem       string `json:"os_system"`
	OSRelease      string `json:"os_release"`
	OSVersion      string `json:"os_version"`
	CPUMachine     string `json:"cpu_machine"`
	CPUProcessor   string `json:"cpu_processor"`
	CPUBrand       string `json:"cpu_brand"`
	PhysicalCores  int    `json:"physical_cores"`
	LogicalCores   int    `json:"logical_cores"`
	RAMGiB         float64 `json:"ram_gib"`
	GPU            string `json:"gpu"`
}

// Key returns the JSON encoding used for identity comparisons. Fields
// appear in struct declaration order, not sorted by key as in
// variation.Variation.Key.
func (p Platform) Key() string {
	b, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// ToJSON serializes the platform.
func (p Platform) ToJSON() (string, error) {
	b, err := json.Marshal(p)
	return string(b), err
}

// FromJSON parses a platform previously produced by ToJSON.
func FromJSON(s string) (Platform, error) {
	var p Platform
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Platform{}, fmt.Errorf("platform: invalid json: %w", err)
	}
	return p, nil
}

// Equal reports whether two platforms have the same identity key.
func (p Platform) Equal(other Platform) bool { return p.Key() == other.Key() }

var (
	currentOnce sync.Once
	current     Platform
)

// FromCurrent collects and caches a Platform for the running host.
// Repeated calls return the identical cached value, matching spec's
// "load_meta/load_cls called twice yield identical descriptors"
// idempotence property as applied to platform collection.
func FromCurrent() Platform {
	currentOnce.Do(func() {
		current = collect()
	})
	return current
}

func collect() Platform {
	brand, machine := parseCPUInfo()
	physical, logical := cpuCounts()
	ramGiB := parseMemInfoGiB()

	return Platform{
		RuntimeImpl:    "go",
		RuntimeVersion: runtime.Version(),
		OSSystem:       runtime.GOOS,
		OSRelease:      kernelRelease(),
		OSVersion:      kernelRelease(),
		CPUMachine:     machine,
		CPUProcessor:   runtime.GOARCH,
		CPUBrand:       brand,
		PhysicalCores:  physical,
		LogicalCores:   logical,
		RAMGiB:         ramGiB,
		GPU:            "",
	}
}

func parseCPUInfo() (brand, machine string) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "", runtime.GOARCH
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		k, v, ok := splitColon(line)
		if !ok {
			continue
		}
		switch k {
		case "model name":
			if brand == "" {
				brand = v
			}
		case "machine":
			machine = v
		}
	}
	if machine == "" {
		machine = runtime.GOARCH
	}
	return brand, machine
}

func cpuCounts() (physical, logical int) {
	logical = runtime.NumCPU()
	physical = logical

	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return physical, logical
	}
	defer f.Close()

	ids := map[string]struct{}{}
	var physicalID, coreID string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if physicalID != "" && coreID != "" {
				ids[physicalID+"/"+coreID] = struct{}{}
			}
			physicalID, coreID = "", ""
			continue
		}
		k, v, ok := splitColon(line)
		if !ok {
			continue
		}
		switch k {
		case "physical id":
			physicalID = v
		case "core id":
			coreID = v
		}
	}
	if physicalID != "" && coreID != "" {
		ids[physicalID+"/"+coreID] = struct{}{}
	}
	if len(ids) > 0 {
		physical = len(ids)
	}
	return physical, logical
}

func parseMemInfoGiB() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		k, v, ok := splitColon(line)
		if !ok || k != "MemTotal" {
			continue
		}
		fields := strings.Fields(v)
		if len(fields) == 0 {
			continue
		}
		kb, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		return kb / (1024 * 1024)
	}
	return 0
}

func kernelRelease() string {
	b, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func splitColon(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// ToOptions renders the platform's fields as CLI-style options with a
// single observed choice each — mirrors variation.Variations.ToOptions
// for the one-value case. pkg/archive uses it to flatten the platform
// into string values inside a snapshot's canonical group key.
func (p Platform) ToOptions() map[string]string {
	out := map[string]string{}
	b, _ := json.Marshal(p)
	var raw map[string]any
	_ = json.Unmarshal(b, &raw)
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = fmt.Sprintf("%v", raw[k])
	}
	return out
}
