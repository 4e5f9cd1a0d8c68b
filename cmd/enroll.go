package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/extractor"
	"github.com/kozaktomas/bioauth/internal/service"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Bulk-enroll samples from a directory",
	Long: `Enroll every sample found under a directory laid out as
<dir>/<identity>/<sample files>.

Files are enrolled in name order per identity. Files that are not images
(face) or audio recordings (voice) are reported and skipped.

Examples:
  # Enroll face images
  bioauth enroll --modality face --dir ./samples/faces

  # Enroll voice recordings with a shared spoken phrase
  bioauth enroll --modality voice --dir ./samples/voices --phrase "open sesame"

  # JSON summary for scripting
  bioauth enroll --modality face --dir ./samples/faces --json`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	addModalityFlag(enrollCmd.Flags())
	enrollCmd.Flags().String("dir", "", "Directory with one subdirectory per identity")
	enrollCmd.Flags().String("phrase", "", "Spoken phrase attached to voice samples")
	enrollCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
	_ = enrollCmd.MarkFlagRequired("dir")
}

type enrollJob struct {
	identity biometric.Identity
	path     string
}

// EnrollFailure is one sample that could not be enrolled.
type EnrollFailure struct {
	Path  string `json:"path"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// EnrollSummary is the result of a bulk enrollment.
type EnrollSummary struct {
	Success       bool            `json:"success"`
	Identities    int             `json:"identities"`
	Enrolled      int             `json:"enrolled"`
	Incomplete    []string        `json:"incomplete,omitempty"`
	Failures      []EnrollFailure `json:"failures,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
	DurationHuman string          `json:"duration_human,omitempty"`
}

// collectEnrollJobs lists the sample files of every identity directory.
func collectEnrollJobs(dir string) ([]enrollJob, []EnrollFailure, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var jobs []enrollJob
	var skipped []EnrollFailure
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		identity, err := biometric.ParseIdentity(entry.Name())
		if err != nil {
			skipped = append(skipped, EnrollFailure{
				Path: filepath.Join(dir, entry.Name()), Code: biometric.ErrorCode(err), Error: err.Error(),
			})
			continue
		}

		files, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if f.Type().IsRegular() && !strings.HasPrefix(f.Name(), ".") {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			jobs = append(jobs, enrollJob{identity: identity, path: filepath.Join(dir, entry.Name(), name)})
		}
	}
	return jobs, skipped, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "dir")
	phrase := mustGetString(cmd, "phrase")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	startTime := time.Now()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service(cmd)
	if err != nil {
		return err
	}

	jobs, failures, err := collectEnrollJobs(dir)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no samples found under %s", dir)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(jobs),
			progressbar.OptionSetDescription("Enrolling "+string(svc.Modality())),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("samples"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	summary := EnrollSummary{}
	complete := make(map[biometric.Identity]bool)
	for _, job := range jobs {
		err := enrollFile(ctx, svc, job, phrase, complete)
		if err != nil {
			failures = append(failures, EnrollFailure{Path: job.path, Code: biometric.ErrorCode(err), Error: err.Error()})
		} else {
			summary.Enrolled++
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	summary.Identities = len(complete)
	for identity, ok := range complete {
		if !ok {
			summary.Incomplete = append(summary.Incomplete, string(identity))
		}
	}
	sort.Strings(summary.Incomplete)
	summary.Failures = failures
	summary.Success = len(failures) == 0
	summary.DurationMs = time.Since(startTime).Milliseconds()

	if jsonOutput {
		summary.DurationHuman = time.Since(startTime).Round(time.Millisecond).String()
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	}

	fmt.Printf("\nEnrolled %d samples for %d identities in %s\n",
		summary.Enrolled, summary.Identities, time.Since(startTime).Round(time.Millisecond))
	if len(summary.Incomplete) > 0 {
		fmt.Printf("Below the minimum sample count: %s\n", strings.Join(summary.Incomplete, ", "))
	}
	if len(failures) > 0 {
		fmt.Printf("%d samples failed:\n", len(failures))
		for _, f := range failures {
			fmt.Printf("  %s: [%s] %s\n", f.Path, f.Code, f.Error)
		}
	}
	return nil
}

func enrollFile(
	ctx context.Context, svc *service.Service, job enrollJob, phrase string, complete map[biometric.Identity]bool,
) error {
	if _, seen := complete[job.identity]; !seen {
		complete[job.identity] = false
	}
	data, err := os.ReadFile(job.path)
	if err != nil {
		return err
	}
	if err := extractor.ValidateSample(svc.Modality(), data); err != nil {
		return err
	}
	result, err := svc.Enroll(ctx, job.identity, data, phrase)
	if err != nil {
		return err
	}
	complete[job.identity] = result.Complete
	return nil
}
