// Команда jobs-replay показывает упавшие задачи очереди и с флагом -execute
// ставит их заново с новым бюджетом попыток.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/queue"
)

const defaultLimit = 50

type options struct {
	redisAddr string
	password  string
	db        int
	prefix    string
	limit     int
	jobType   string
	jobIDs    []string
	execute   bool
}

// failedJobs: операции очереди, которые нужны команде.
type failedJobs interface {
	Failed(ctx context.Context, limit int) ([]queue.Job, error)
	Replay(ctx context.Context, id string) (queue.Job, error)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: opts.redisAddr, Password: opts.password, DB: opts.db})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	backend := queue.NewRedisBackend(client, opts.prefix)
	if err := backend.Ping(ctx); err != nil {
		fail("redis is unavailable: %v", err)
	}
	if err := run(ctx, queue.New(backend, log.WithField("component", "jobs-replay")), opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func parseOptions(fs *flag.FlagSet, args []string, getenv func(string) string) (options, error) {
	var (
		opts options
		ids  string
	)
	fs.StringVar(&opts.redisAddr, "redis", "", "Redis address (fallback: ORDERFLOW_REDIS_ADDR)")
	fs.StringVar(&opts.password, "password", "", "Redis password (fallback: ORDERFLOW_REDIS_PASSWORD)")
	fs.IntVar(&opts.db, "db", 0, "Redis database")
	fs.StringVar(&opts.prefix, "prefix", "", "queue key prefix (fallback: ORDERFLOW_QUEUE_PREFIX)")
	fs.IntVar(&opts.limit, "limit", defaultLimit, "max number of failed jobs to inspect")
	fs.StringVar(&opts.jobType, "type", "", "only jobs of this type, e.g. INVOICE_CREATED")
	fs.StringVar(&ids, "ids", "", "comma-separated job ids to replay")
	fs.BoolVar(&opts.execute, "execute", false, "replay the selected jobs; default is dry-run")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.redisAddr == "" {
		opts.redisAddr = strings.TrimSpace(getenv("ORDERFLOW_REDIS_ADDR"))
	}
	if opts.password == "" {
		opts.password = getenv("ORDERFLOW_REDIS_PASSWORD")
	}
	if opts.prefix == "" {
		opts.prefix = strings.TrimSpace(getenv("ORDERFLOW_QUEUE_PREFIX"))
	}
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			opts.jobIDs = append(opts.jobIDs, id)
		}
	}
	if opts.redisAddr == "" {
		return options{}, errors.New("redis address is required (-redis or ORDERFLOW_REDIS_ADDR)")
	}
	if opts.limit <= 0 {
		return options{}, errors.New("limit must be > 0")
	}
	return opts, nil
}

// run печатает выбранные упавшие задачи и, если задан execute, перезапускает их.
func run(ctx context.Context, jobs failedJobs, opts options, out io.Writer) error {
	failed, err := jobs.Failed(ctx, opts.limit)
	if err != nil {
		return fmt.Errorf("list failed jobs: %w", err)
	}
	selected := selectJobs(failed, opts)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tATTEMPTS\tFINISHED\tLAST ERROR")
	for _, job := range selected {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			job.ID, job.Type, job.Attempts, job.MaxAttempts, job.FinishedAt.Format(time.RFC3339), job.LastError)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !opts.execute {
		_, _ = fmt.Fprintf(out, "dry-run: %d job(s) would be replayed, pass -execute to requeue\n", len(selected))
		return nil
	}

	replayed := 0
	var errs []error
	for _, job := range selected {
		if _, err := jobs.Replay(ctx, job.ID); err != nil {
			errs = append(errs, fmt.Errorf("replay %s: %w", job.ID, err))
			continue
		}
		replayed++
	}
	_, _ = fmt.Fprintf(out, "replayed %d of %d job(s)\n", replayed, len(selected))
	return errors.Join(errs...)
}

func selectJobs(failed []queue.Job, opts options) []queue.Job {
	wanted := make(map[string]bool, len(opts.jobIDs))
	for _, id := range opts.jobIDs {
		wanted[id] = true
	}
	selected := make([]queue.Job, 0, len(failed))
	for _, job := range failed {
		if opts.jobType != "" && !strings.EqualFold(job.Type, opts.jobType) {
			continue
		}
		if len(wanted) > 0 && !wanted[job.ID] {
			continue
		}
		selected = append(selected, job)
	}
	return selected
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
