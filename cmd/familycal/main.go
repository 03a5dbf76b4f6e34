package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"familycal/internal/calendar"
	"familycal/internal/capture"
	"familycal/internal/config"
	"familycal/internal/ics"
	appLog "familycal/internal/log"
	"familycal/internal/projection"
	"familycal/internal/store"
	"familycal/internal/timeutil"
	"familycal/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	importPath string
	exportPath string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("familycal starting", "version", version)

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone", err)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"week_start", conf.WeekStart,
		"visible_days", conf.VisibleDays,
		"store_dir", conf.StoreDir,
		"refresh", conf.RefreshCron,
		"subscriptions", len(conf.Subscriptions),
		"preview", conf.Preview.Enabled,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(conf.StoreDir)
	if err != nil {
		appLog.Error("failed to open event store", err, "dir", conf.StoreDir)
		os.Exit(1)
	}

	subs := buildSubscriptions(conf, loc)
	sources := make([]calendar.Source, 0, len(subs))
	for _, sub := range subs {
		sources = append(sources, sub)
	}
	svc := calendar.NewService(st, calendar.Options{
		Location:    loc,
		WeekStart:   conf.WeekStartDay(),
		VisibleDays: conf.VisibleDays,
		Palette:     conf.Palette,
	}, sources...)

	switch {
	case flags.importPath != "":
		if err := runImport(ctx, svc, flags.importPath, loc); err != nil {
			appLog.Error("import failed", err, "path", flags.importPath)
			os.Exit(1)
		}
		return
	case flags.exportPath != "":
		if err := runExport(ctx, svc, flags.exportPath); err != nil {
			appLog.Error("export failed", err, "path", flags.exportPath)
			os.Exit(1)
		}
		return
	case flags.once:
		ics.RefreshAll(ctx, subs)
		if err := printWeek(ctx, os.Stdout, svc, time.Now().In(loc)); err != nil {
			appLog.Error("week projection failed", err)
			os.Exit(1)
		}
		return
	}

	server := web.NewServer(conf, svc)

	refresh := func() {
		failed := ics.RefreshAll(ctx, subs)
		server.InvalidateWeek()
		if failed > 0 {
			appLog.Warn("some subscriptions failed to refresh", "failed", failed, "total", len(subs))
		}
		if conf.Preview.Enabled {
			err := capture.WeekPNG(ctx, capture.Options{
				URL:        "http://" + localAddr(conf.Listen) + "/week",
				OutputPath: conf.Preview.Path,
				Width:      conf.Preview.Width,
				Height:     conf.Preview.Height,
			})
			if err != nil {
				appLog.Error("preview capture failed", err)
			}
		}
	}

	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(conf.RefreshCron, refresh); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	go refresh()

	if err := server.Serve(ctx); err != nil {
		appLog.Error("http server failed", err)
		<-sched.Stop().Done()
		os.Exit(1)
	}

	<-sched.Stop().Done()
	appLog.Info("familycal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./familycal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh subscriptions, print the current week and exit")
	flag.StringVar(&cfg.importPath, "import", "", "Import events from an .ics file and exit")
	flag.StringVar(&cfg.exportPath, "export", "", "Export stored events to an .ics file (- for stdout) and exit")

	flag.Parse()

	return cfg
}

func buildSubscriptions(conf *config.Config, loc *time.Location) []*ics.Subscription {
	fetcher := ics.NewFetcher(conf.CacheDir, nil)
	subs := make([]*ics.Subscription, 0, len(conf.Subscriptions))
	for _, sc := range conf.Subscriptions {
		if strings.TrimSpace(sc.URL) == "" {
			appLog.Warn("skipping subscription without url", "id", sc.ID)
			continue
		}
		feed := ics.Feed{ID: sc.ID, Name: sc.Name, URL: sc.URL}
		subs = append(subs, ics.NewSubscription(feed, fetcher, ics.DecodeOptions{
			Location:   loc,
			SkipAllDay: !conf.ShowAllDay,
		}))
	}
	return subs
}

func runImport(ctx context.Context, svc *calendar.Service, path string, loc *time.Location) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	events, err := ics.Decode(f, ics.DecodeOptions{Location: loc})
	if err != nil {
		return err
	}
	n, err := svc.Import(ctx, events)
	if err != nil {
		return err
	}
	appLog.Info("import finished", "path", path, "decoded", len(events), "stored", n)
	return nil
}

func runExport(ctx context.Context, svc *calendar.Service, path string) error {
	events, err := svc.List(ctx, store.Query{})
	if err != nil {
		return err
	}
	if path == "-" {
		return ics.Encode(os.Stdout, events)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ics.Encode(f, events); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	appLog.Info("export finished", "path", path, "events", len(events))
	return nil
}

// printWeek writes the projected week as plain text, one line per entry.
func printWeek(ctx context.Context, w io.Writer, svc *calendar.Service, anchor time.Time) error {
	week, err := svc.Week(ctx, anchor, projection.Filter{})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Week of %s\n", week.Start.Format("Mon Jan 2, 2006"))
	var current timeutil.Day
	for _, e := range week.Entries {
		if day := timeutil.DayKey(e.Start); day != current {
			current = day
			fmt.Fprintf(w, "\n%s\n", e.Start.Format("Monday, Jan 2"))
		}
		col := ""
		if e.ColumnCount > 1 {
			col = fmt.Sprintf(" [%d/%d]", e.Column+1, e.ColumnCount)
		}
		fmt.Fprintf(w, "  %8s - %-8s %s (%s)%s\n",
			timeutil.FormatClock(e.Start), timeutil.FormatClock(e.End), e.Title, e.OwnerTag, col)
	}
	if len(week.Entries) == 0 {
		fmt.Fprintln(w, "\n  no events")
	}
	return nil
}

// localAddr turns a listen address such as ":8080" or "0.0.0.0:8080" into
// one the capture browser can dial.
func localAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
