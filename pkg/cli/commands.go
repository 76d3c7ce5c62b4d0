package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalmax/signalmax/pkg/deletion"
	"github.com/signalmax/signalmax/pkg/livetail"
	"github.com/signalmax/signalmax/pkg/pagination"
	"github.com/signalmax/signalmax/pkg/push"
	"github.com/signalmax/signalmax/pkg/repository/document"
)

type runtimeRunner func(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) error

// summaryFields are tried in order for the one-line rendering of a document.
var summaryFields = []string{"content", "title", "name", "text"}

func rawDocument(d document.Document) (document.Document, error) { return d, nil }

type feedFlags struct {
	collection string
	orderBy    string
	pageSize   int
	pages      int
	policy     string
	duration   time.Duration
}

func (f *feedFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.collection, "collection", "", "collection path (default feed.collection)")
	cmd.Flags().StringVar(&f.orderBy, "order-by", "", "descending sort field (default feed.order_by)")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "items per page (default feed.page_size)")
}

func (f *feedFlags) query(rt *Runtime) (document.Query, int) {
	q := document.Query{
		Collection: firstNonEmpty(f.collection, rt.Config.Feed.Collection),
		OrderBy:    firstNonEmpty(f.orderBy, rt.Config.Feed.OrderBy),
		Order:      document.SortDesc,
	}
	size := f.pageSize
	if size <= 0 {
		size = rt.Config.Feed.PageSize
	}
	return q, size
}

func newFeedCommand(run runtimeRunner) *cobra.Command {
	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Read the paginated feed",
	}
	SetCommandPolicies(feedCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyRun})

	pageFlags := &feedFlags{}
	pageCmd := &cobra.Command{
		Use:   "page",
		Short: "Print the first pages of the feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, rt *Runtime) error {
				q, size := pageFlags.query(rt)
				w, err := pagination.NewWindow(rt.Backends.Documents, rawDocument, rt.Logger)
				if err != nil {
					return err
				}
				nav := pagination.NewNavigator(w, rt.Logger)
				page, err := w.LoadFirst(ctx, q, size)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printPage(out, page)
				for i := 1; i < pageFlags.pages && page.HasNext; i++ {
					if page, err = nav.Next(ctx); err != nil {
						return err
					}
					printPage(out, page)
				}
				return nil
			})
		},
	}
	pageFlags.register(pageCmd)
	pageCmd.Flags().IntVar(&pageFlags.pages, "pages", 1, "number of pages to walk")
	SetCommandPolicies(pageCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyRun})

	tailFlags := &feedFlags{}
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow page 1 of the feed until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, rt *Runtime) error {
				policy, err := livetail.ParsePolicy(firstNonEmpty(tailFlags.policy, rt.Config.Feed.LiveTailPolicy))
				if err != nil {
					return err
				}
				return tailFeed(ctx, cmd.OutOrStdout(), rt, tailFlags, policy)
			})
		},
	}
	tailFlags.register(tailCmd)
	tailCmd.Flags().StringVar(&tailFlags.policy, "policy", "", "prepend or deferred-banner (default feed.live_tail_policy)")
	tailCmd.Flags().DurationVar(&tailFlags.duration, "duration", 0, "stop after this long (0 waits for a signal)")
	SetCommandPolicies(tailCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyRun})

	feedCmd.AddCommand(pageCmd, tailCmd)
	return feedCmd
}

func tailFeed(ctx context.Context, out io.Writer, rt *Runtime, flags *feedFlags, policy livetail.Policy) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.duration)
		defer cancel()
	}

	feed, err := livetail.New(rt.Backends.Documents, rt.Backends.Documents, rawDocument, livetail.Config{Policy: policy}, rt.Logger)
	if err != nil {
		return err
	}
	changed := make(chan struct{}, 1)
	feed.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	q, size := flags.query(rt)
	page, err := feed.Start(ctx, q, size)
	if err != nil {
		return err
	}
	defer feed.Stop()
	printPage(out, page)
	if !feed.Live() {
		fmt.Fprintln(out, "feed is empty; nothing to follow")
		return nil
	}

	// Events replayed by Start do not fire OnChange.
	if feed.Pending() > 0 {
		printPending(out, feed.Pending())
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := feed.Err(); err != nil {
				return err
			}
			printPending(out, feed.Pending())
			printItems(out, feed.Items())
		}
	}
}

func printPending(out io.Writer, n int) {
	if n > 0 {
		fmt.Fprintf(out, "%d new item(s) pending\n", n)
	}
}

func newDeleteCommand(run runtimeRunner) *cobra.Command {
	var background bool
	deleteCmd := &cobra.Command{
		Use:   "delete <collection-path>",
		Short: "Delete every document of a collection in bounded batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, rt *Runtime) error {
				d, err := rt.Deleter()
				if err != nil {
					return err
				}
				var res deletion.Result
				if background {
					job := d.Start(ctx, args[0])
					fmt.Fprintf(cmd.OutOrStdout(), "deletion of %s started\n", args[0])
					res, err = job.Wait(ctx)
				} else {
					res, err = d.DeleteCollection(ctx, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d document(s) in %d batch(es)\n", res.Deleted, res.Batches)
				return err
			})
		},
	}
	deleteCmd.Flags().BoolVar(&background, "background", false, "run as a background job and wait for it")
	SetCommandPolicies(deleteCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	return deleteCmd
}

func newCascadeCommand(run runtimeRunner) *cobra.Command {
	cascadeCmd := &cobra.Command{
		Use:   "cascade <user|course> <id>",
		Short: "Remove the documents owned by a deleted user or course",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := deletion.ParseTriggerKind(args[0])
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, rt *Runtime) error {
				c, err := rt.Cascade()
				if err != nil {
					return err
				}
				rep, err := c.Run(ctx, deletion.Trigger{Kind: kind, ID: args[1]})
				printCascade(cmd.OutOrStdout(), rep)
				return err
			})
		},
	}
	SetCommandPolicies(cascadeCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	return cascadeCmd
}

func newPushCommand(run runtimeRunner) *cobra.Command {
	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Targeted push notifications",
	}
	SetCommandPolicies(pushCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})

	var (
		target string
		title  string
		body   string
		caller string
		data   map[string]string
	)
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send a notification to all, premium or non-premium users",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := push.ParseTarget(target)
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, rt *Runtime) error {
				svc, err := rt.PushService()
				if err != nil {
					return err
				}
				res, err := svc.SendTargeted(ctx, caller, push.Request{Target: t, Title: title, Body: body, Data: data})
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "users=%d tokens=%d skipped=%d success=%d failure=%d\n",
					res.Users, res.Tokens, res.Skipped, res.SuccessCount, res.FailureCount)
				if len(res.FailedTokens) > 0 {
					fmt.Fprintf(out, "failed tokens: %s\n", strings.Join(res.FailedTokens, ", "))
				}
				return err
			})
		},
	}
	sendCmd.Flags().StringVar(&target, "target", string(push.TargetAll), "all, premium or non-premium")
	sendCmd.Flags().StringVar(&title, "title", "", "notification title")
	sendCmd.Flags().StringVar(&body, "body", "", "notification body")
	sendCmd.Flags().StringVar(&caller, "as", "", "id of the administrator sending the notification")
	sendCmd.Flags().StringToStringVar(&data, "data", nil, "extra key=value data")
	_ = sendCmd.MarkFlagRequired("as")
	SetCommandPolicies(sendCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})

	pushCmd.AddCommand(sendCmd)
	return pushCmd
}

func printPage(out io.Writer, page pagination.Page[document.Document]) {
	fmt.Fprintf(out, "page %d (%d items, previous=%t, next=%t)\n", page.Number, len(page.Items), page.HasPrevious, page.HasNext)
	printItems(out, page.Items)
}

func printItems(out io.Writer, items []pagination.Item[document.Document]) {
	for _, it := range items {
		fmt.Fprintf(out, "  %-24s %s\n", it.ID, summarize(it.Value))
	}
}

func summarize(d document.Document) string {
	for _, field := range summaryFields {
		if v, ok := d.Value(field); ok {
			s := fmt.Sprint(v)
			if r := []rune(s); len(r) > 60 {
				s = string(r[:60]) + "..."
			}
			return s
		}
	}
	return ""
}

func printCascade(out io.Writer, rep deletion.Report) {
	if rep.Skipped {
		fmt.Fprintf(out, "cascade %s/%s already claimed elsewhere; skipped\n", rep.Trigger.Kind, rep.Trigger.ID)
		return
	}
	for _, path := range sortedKeys(rep.Collections) {
		res := rep.Collections[path]
		fmt.Fprintf(out, "  %-40s deleted=%d batches=%d\n", path, res.Deleted, res.Batches)
	}
	total := rep.Total()
	fmt.Fprintf(out, "total deleted=%d batches=%d blobs deleted=%d missing=%d failed=%d\n",
		total.Deleted, total.Batches, rep.BlobsDeleted, rep.BlobsMissing, rep.BlobFailures)
}

func sortedKeys(m map[string]deletion.Result) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
