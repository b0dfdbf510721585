// Package profiling collects a one-shot, best-effort hardware and
// cloud-placement snapshot for a worker process, recorded alongside
// its first benchlog record so an operator investigating an anomalous
// result (one instance in a sweep running far slower than its peers)
// has CPU topology and instance placement to look at without
// re-running anything (SPEC_FULL.md §B).
//
// Grounded on pkg/profiling/system_profiler.go's SystemProfiler, kept
// to the subsystems it implements for real: IMDSv2 instance metadata,
// /proc/cpuinfo parsing, lscpu-based physical layout, and
// /proc/cpuinfo + sysfs frequency/governor. Its NUMA/DIMM/cache-
// hierarchy/SR-IOV/paravirtualization/threading-pinning fields are
// dropped outright — in the teacher itself those are `// TODO` stubs
// returning an empty struct or a hardcoded constant
// (parseCacheTopology, getDIMMInfo, getNUMATopology,
// getMemoryController, checkSRIOV, checkNestedVirtualization,
// getParavirtualizationInfo), so there was no real implementation left
// to adapt, only a field to delete. IMDS metadata fetching is ported
// from the teacher's curl-via-os/exec technique to net/http, since a
// worker binary built as a static Go binary for a distroless image
// (see pkg/containers) cannot assume a curl binary is on PATH.
package profiling

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// InstanceMetadata is the cloud placement of the host a worker is
// running on, as reported by the EC2 instance metadata service.
type InstanceMetadata struct {
	InstanceType       string
	InstanceFamily     string
	InstanceID         string
	Region             string
	AvailabilityZone   string
	VirtualizationType string
	Hypervisor         string
}

// CPUIdentification is what /proc/cpuinfo reports about the CPU model
// itself, independent of how many of them there are.
type CPUIdentification struct {
	Vendor          string
	ModelName       string
	Family          int
	Model           int
	Stepping        int
	Microcode       string
	InstructionSets []string
}

// PhysicalLayout is the socket/core/thread shape lscpu reports.
type PhysicalLayout struct {
	Sockets               int
	CoresPerSocket        int
	ThreadsPerCore        int
	TotalPhysicalCores    int
	TotalLogicalCPUs      int
	HyperthreadingEnabled bool
}

// FrequencyInfo is the CPU clock configuration visible from
// /proc/cpuinfo and sysfs cpufreq.
type FrequencyInfo struct {
	BaseFrequencyMHz float64
	Governor         string
	ScalingDriver    string
}

// Diagnostics is one point-in-time snapshot of a worker's host.
type Diagnostics struct {
	CollectedAt   time.Time
	Instance      InstanceMetadata
	CPU           CPUIdentification
	Layout        PhysicalLayout
	Frequency     FrequencyInfo
	TotalMemoryGB float64
}

// Collector gathers a Diagnostics snapshot from the local host.
type Collector struct {
	httpClient *http.Client
}

// NewCollector returns a Collector with a short IMDS request timeout —
// IMDS is unreachable outside EC2, and a worker running elsewhere
// (a developer's laptop, a CI runner) must not hang waiting for it.
func NewCollector() *Collector {
	return &Collector{httpClient: &http.Client{Timeout: 2 * time.Second}}
}

// Collect gathers everything it can and returns a partially-populated
// Diagnostics when IMDS, lscpu or /proc/meminfo is unavailable — CPU
// topology is still useful context even when IMDS can't be reached.
// A failure to parse /proc/cpuinfo is returned as an error, together
// with what was collected before it.
func (c *Collector) Collect(ctx context.Context) (*Diagnostics, error) {
	d := &Diagnostics{CollectedAt: time.Now()}

	if meta, err := c.getAWSInstanceMetadata(ctx); err == nil {
		d.Instance = meta
	}
	virtType, hypervisor := detectVirtualization()
	d.Instance.VirtualizationType = virtType
	d.Instance.Hypervisor = hypervisor

	cpu, err := parseCPUInfo()
	if err != nil {
		return d, fmt.Errorf("failed to parse CPU info: %w", err)
	}
	d.CPU = cpu

	if layout, err := getCPULayout(ctx); err == nil {
		d.Layout = layout
	}

	d.Frequency = getCPUFrequency()

	if memGB, err := parseMemInfoTotalGB(); err == nil {
		d.TotalMemoryGB = memGB
	}

	return d, nil
}

func (c *Collector) getAWSInstanceMetadata(ctx context.Context) (InstanceMetadata, error) {
	var metadata InstanceMetadata

	token, err := c.getIMDSv2Token(ctx)
	if err != nil {
		return metadata, err
	}

	instanceType, err := c.getMetadataWithToken(ctx, "instance-type", token)
	if err != nil {
		return metadata, err
	}
	metadata.InstanceType = instanceType
	if parts := strings.Split(instanceType, "."); len(parts) > 0 {
		metadata.InstanceFamily = parts[0]
	}

	if instanceID, err := c.getMetadataWithToken(ctx, "instance-id", token); err == nil {
		metadata.InstanceID = instanceID
	}

	if az, err := c.getMetadataWithToken(ctx, "placement/availability-zone", token); err == nil {
		metadata.AvailabilityZone = az
		if len(az) > 0 {
			metadata.Region = az[:len(az)-1]
		}
	}

	return metadata, nil
}

const imdsBaseURL = "http://169.254.169.254/latest"

func (c *Collector) getIMDSv2Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, imdsBaseURL+"/api/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-aws-ec2-metadata-token-ttl-seconds", "21600")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("IMDS token request returned %d", resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Collector) getMetadataWithToken(ctx context.Context, path, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imdsBaseURL+"/meta-data/"+path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-aws-ec2-metadata-token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("IMDS metadata request for %s returned %d", path, resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}

func detectVirtualization() (virtType, hypervisor string) {
	if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		content := string(data)
		if strings.Contains(content, "hypervisor") {
			if strings.Contains(content, "QEMU") {
				return "hvm", "QEMU/KVM"
			}
			return "hvm", "unknown"
		}
	}

	if data, err := os.ReadFile("/sys/class/dmi/id/sys_vendor"); err == nil {
		vendor := strings.TrimSpace(string(data))
		switch {
		case strings.Contains(vendor, "Amazon"):
			return "hvm", "AWS Nitro"
		case strings.Contains(vendor, "Google"):
			return "hvm", "Google Compute Engine"
		case strings.Contains(vendor, "Microsoft"):
			return "hvm", "Hyper-V"
		}
	}

	return "unknown", "unknown"
}

func parseCPUInfo() (CPUIdentification, error) {
	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return CPUIdentification{}, err
	}
	defer file.Close()

	cpu := CPUIdentification{InstructionSets: []string{}}
	seen := map[string]bool{}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, ":") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "vendor_id":
			cpu.Vendor = value
		case "model name":
			cpu.ModelName = value
		case "cpu family":
			if v, err := strconv.Atoi(value); err == nil {
				cpu.Family = v
			}
		case "model":
			if v, err := strconv.Atoi(value); err == nil {
				cpu.Model = v
			}
		case "stepping":
			if v, err := strconv.Atoi(value); err == nil {
				cpu.Stepping = v
			}
		case "microcode":
			cpu.Microcode = value
		case "flags", "Features":
			for _, flag := range strings.Fields(value) {
				if isInstructionSet(flag) && !seen[flag] {
					seen[flag] = true
					cpu.InstructionSets = append(cpu.InstructionSets, strings.ToUpper(flag))
				}
			}
		}
	}
	return cpu, scanner.Err()
}

func isInstructionSet(flag string) bool {
	instructionSets := map[string]bool{
		"sse": true, "sse2": true, "sse3": true, "ssse3": true, "sse4_1": true, "sse4_2": true,
		"avx": true, "avx2": true, "avx512f": true, "avx512cd": true, "avx512vl": true,
		"avx512bw": true, "avx512dq": true,
		"fma": true, "fma3": true, "fma4": true,
		"aes": true, "pclmul": true, "rdrand": true, "rdseed": true,
		"bmi1": true, "bmi2": true, "adx": true,
		"neon": true, "asimd": true, "sve": true, "sve2": true,
	}
	return instructionSets[strings.ToLower(flag)]
}

func getCPULayout(ctx context.Context) (PhysicalLayout, error) {
	var layout PhysicalLayout

	cmd := exec.CommandContext(ctx, "lscpu", "-p=CPU,CORE,SOCKET,NODE")
	output, err := cmd.Output()
	if err != nil {
		return layout, err
	}

	coreToSocket := map[int]int{}
	cpuToCore := map[int]int{}

	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			continue
		}
		cpu, _ := strconv.Atoi(fields[0])
		core, _ := strconv.Atoi(fields[1])
		socket, _ := strconv.Atoi(fields[2])
		cpuToCore[cpu] = core
		coreToSocket[core] = socket
	}

	sockets := map[int]bool{}
	for _, socket := range coreToSocket {
		sockets[socket] = true
	}

	layout.Sockets = len(sockets)
	layout.TotalPhysicalCores = len(coreToSocket)
	layout.TotalLogicalCPUs = len(cpuToCore)
	if layout.TotalPhysicalCores > 0 {
		layout.ThreadsPerCore = layout.TotalLogicalCPUs / layout.TotalPhysicalCores
	}
	if layout.Sockets > 0 {
		layout.CoresPerSocket = layout.TotalPhysicalCores / layout.Sockets
	}
	layout.HyperthreadingEnabled = layout.ThreadsPerCore > 1

	return layout, nil
}

var cpuMHzPattern = regexp.MustCompile(`cpu MHz\s*:\s*(\d+\.?\d*)`)

func getCPUFrequency() FrequencyInfo {
	var freq FrequencyInfo

	if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		if matches := cpuMHzPattern.FindStringSubmatch(string(data)); len(matches) > 1 {
			if base, err := strconv.ParseFloat(matches[1], 64); err == nil {
				freq.BaseFrequencyMHz = base
			}
		}
	}
	if gov, err := os.ReadFile("/sys/devices/system/cpu/cpu0/cpufreq/scaling_governor"); err == nil {
		freq.Governor = strings.TrimSpace(string(gov))
	}
	if driver, err := os.ReadFile("/sys/devices/system/cpu/cpu0/cpufreq/scaling_driver"); err == nil {
		freq.ScalingDriver = strings.TrimSpace(string(driver))
	}
	return freq
}

func parseMemInfoTotalGB() (float64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed MemTotal line: %q", line)
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, err
		}
		return kb / (1024 * 1024), nil
	}
	return 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
}
