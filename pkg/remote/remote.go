// Package remote implements remote worker execution as an alternate
// transport to pkg/driver's local subprocess path (SPEC_FULL.md §B):
// discover candidate EC2 instance types, then dispatch the worker
// binary on an already-running instance over SSM and collect its
// terminal status.
//
// Grounded on pkg/discovery/instances.go's DescribeInstanceTypes
// pagination (DiscoverInstanceTypes below) and on
// pkg/aws/orchestrator.go's executeSSMCommand/
// waitForSSMCommandCompletion (SendCommand against the AWS-RunShellScript
// document, then poll GetCommandInvocation), with async_types.go's
// JobStatus lifecycle carried over as Status. Instance provisioning
// and S3 sentinel-file polling are not reproduced — this package
// assumes an instance is already running and reachable over SSM, and
// returns a completed Job's output in the Job itself rather than
// through a separate sentinel-file protocol.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Error is the sentinel kind for every remote-dispatch failure: a
// discovery API error, a failed SendCommand, or a terminal SSM
// invocation status.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("remote: %s: %s", e.Op, e.Msg) }

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InstanceType is a candidate EC2 instance type a remote worker may
// run on, reduced from discovery.InstanceInfo to the fields a remote
// sweep actually selects on (no container-tag/architecture-mapping
// machinery — this domain ships one worker binary per architecture,
// not per microarchitecture-tuned container).
type InstanceType struct {
	Name         string
	Architecture string
	VCPUs        int32
}

// Discoverer wraps the AWS SDK v2 EC2 client for instance type
// enumeration.
type Discoverer struct {
	ec2Client *ec2.Client
}

// NewDiscoverer builds a Discoverer from the default AWS credential
// chain/region resolution.
func NewDiscoverer(ctx context.Context) (*Discoverer, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errf("new_discoverer", "%v", err)
	}
	return &Discoverer{ec2Client: ec2.NewFromConfig(cfg)}, nil
}

// DiscoverInstanceTypes enumerates every EC2 instance type visible to
// the caller's account/region, paginating via NextToken until
// exhausted.
func (d *Discoverer) DiscoverInstanceTypes(ctx context.Context) ([]InstanceType, error) {
	var out []InstanceType
	var nextToken *string
	for {
		resp, err := d.ec2Client.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{NextToken: nextToken})
		if err != nil {
			return nil, errf("discover", "%v", err)
		}
		for _, it := range resp.InstanceTypes {
			info := InstanceType{Name: string(it.InstanceType)}
			if it.ProcessorInfo != nil && len(it.ProcessorInfo.SupportedArchitectures) > 0 {
				info.Architecture = string(it.ProcessorInfo.SupportedArchitectures[0])
			}
			if it.VCpuInfo != nil && it.VCpuInfo.DefaultVCpus != nil {
				info.VCPUs = *it.VCpuInfo.DefaultVCpus
			}
			out = append(out, info)
		}
		nextToken = resp.NextToken
		if nextToken == nil {
			break
		}
	}
	return out, nil
}

// Status mirrors async_types.go's JobStatus lifecycle, reduced to the
// states a single SSM-dispatched worker passes through. The teacher's
// cost-tracking and emergency-stop states belong to its fire-and-forget
// EC2 fleet launcher, which this package does not implement — instance
// provisioning is out of scope here (see SPEC_FULL.md's non-goals).
type Status string

const (
	StatusLaunched  Status = "launched"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Job tracks one worker invocation dispatched to a remote instance.
type Job struct {
	InstanceID string
	CommandID  string
	Status     Status
	Stdout     string
	Stderr     string
	LaunchedAt time.Time
}

// Launcher dispatches worker invocations to already-running EC2
// instances over SSM.
type Launcher struct {
	ssmClient *ssm.Client
}

// NewLauncher builds a Launcher from the default AWS credential
// chain/region resolution.
func NewLauncher(ctx context.Context) (*Launcher, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errf("new_launcher", "%v", err)
	}
	return &Launcher{ssmClient: ssm.NewFromConfig(cfg)}, nil
}

// Launch sends argv as a single shell command to instanceID via the
// AWS-RunShellScript document, matching executeSSMCommand's document
// choice and 3600-second timeout.
func (l *Launcher) Launch(ctx context.Context, instanceID string, argv []string) (*Job, error) {
	resp, err := l.ssmClient.SendCommand(ctx, &ssm.SendCommandInput{
		InstanceIds:    []string{instanceID},
		DocumentName:   aws.String("AWS-RunShellScript"),
		Parameters:     map[string][]string{"commands": {quoteShell(argv)}},
		TimeoutSeconds: aws.Int32(3600),
	})
	if err != nil {
		return nil, errf("launch", "%v", err)
	}
	return &Job{
		InstanceID: instanceID,
		CommandID:  aws.ToString(resp.Command.CommandId),
		Status:     StatusLaunched,
		LaunchedAt: time.Now(),
	}, nil
}

// Poll checks job's current SSM invocation status once and updates its
// fields in place, without blocking. Wait below loops this on an
// interval; callers that want a different cadence (e.g. to interleave
// with other remote jobs) can call Poll directly.
func (l *Launcher) Poll(ctx context.Context, job *Job) error {
	resp, err := l.ssmClient.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(job.CommandID),
		InstanceId: aws.String(job.InstanceID),
	})
	if err != nil {
		return errf("poll", "%v", err)
	}

	job.Stdout = aws.ToString(resp.StandardOutputContent)
	job.Stderr = aws.ToString(resp.StandardErrorContent)
	job.Status = mapInvocationStatus(string(resp.Status))
	return nil
}

// mapInvocationStatus translates an SSM command invocation status string
// into a Status, extracted from Poll so the mapping itself can be
// tested without a live SSM client.
func mapInvocationStatus(status string) Status {
	switch status {
	case "Success":
		return StatusCompleted
	case "Failed", "Cancelled":
		return StatusFailed
	case "TimedOut":
		return StatusTimedOut
	case "InProgress", "Pending", "Cancelling":
		return StatusRunning
	default:
		return StatusLaunched
	}
}

// Wait polls job every interval until it reaches a terminal status or
// ctx is cancelled, in place of the teacher's fixed 60-second
// waitForSSMCommandCompletion sleep.
func (l *Launcher) Wait(ctx context.Context, job *Job, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := l.Poll(ctx, job); err != nil {
			return err
		}
		switch job.Status {
		case StatusCompleted, StatusFailed, StatusTimedOut:
			return nil
		}
		select {
		case <-ctx.Done():
			return errf("wait", "%v", ctx.Err())
		case <-ticker.C:
		}
	}
}

// quoteShell joins argv into a single POSIX shell command line, single
// quoting every argument so worker flag values (e.g. a JSON-encoded
// --extra option) survive SSM's single-string command parameter.
func quoteShell(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(parts, " ")
}
