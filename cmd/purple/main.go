package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"purple/internal/app"
	"purple/internal/config"
	"purple/internal/db"
	"purple/internal/domain"
	"purple/internal/engine"
	"purple/internal/repo"
	"purple/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "purple",
	Short: "Purple CLI",
	Long: `Purple tracks documents through the editorial queue and keeps their
blocked status reconciled with the facts.

- Workspace: your .purple directory holding the database; purple.yml next to
  it holds roles, labels and relationship vocabulary.
- Document: one item in the queue with a disposition (created, in_progress,
  published, withdrawn).
- Assignment: a person working a role on a document; roles form a fixed
  prerequisite graph from enqueuer to publisher.
- Blocked: a synthetic assignment the engine creates when one of the stage
  gates matches; humans never create or close it.
- Reconcile: recompute the gates for a document and flip the blocked marker
  if it disagrees; 'purple sweep' does the same for the whole queue.
- Event log: diary of changes, view with 'purple log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PURPLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "warnings and errors only")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(holderCmd())
	rootCmd.AddCommand(labelCmd())
	rootCmd.AddCommand(refCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(clusterCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("Initialized workspace: %s (db %s)\n", path, db.Path(workspace))
				return nil
			})
		},
	}
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{Use: "doc", Short: "Manage documents"}
	doc.AddCommand(docCreateCmd())
	doc.AddCommand(docShowCmd())
	doc.AddCommand(docListCmd())
	doc.AddCommand(docQueueCmd())
	doc.AddCommand(docDispositionCmd())
	doc.AddCommand(docBlockedCmd())
	doc.AddCommand(docActivitiesCmd())
	return doc
}

func docCreateCmd() *cobra.Command {
	var draft, deadline, goal string
	var rfc int
	var inProgress bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Enqueue a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				disposition := domain.DispositionCreated
				if inProgress {
					disposition = domain.DispositionInProgress
				}
				d, err := a.Engine.CreateDocument(ctx, engine.DocumentCreateOptions{
					DraftName:        draft,
					RfcNumber:        rfc,
					Disposition:      disposition,
					ExternalDeadline: deadline,
					InternalGoal:     goal,
					ActorID:          viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().StringVar(&draft, "draft", "", "draft name")
	cmd.Flags().IntVar(&rfc, "rfc", 0, "rfc number")
	cmd.Flags().StringVar(&deadline, "deadline", "", "external deadline (RFC3339)")
	cmd.Flags().StringVar(&goal, "goal", "", "internal goal (RFC3339)")
	cmd.Flags().BoolVar(&inProgress, "in-progress", false, "enqueue directly as in_progress")
	return cmd
}

func docShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document with assignments, labels and blocked marker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.Repo.GetDocument(ctx, nil, args[0])
				if err != nil {
					return err
				}
				assignments, err := a.Engine.Repo.ListAssignments(ctx, nil, d.ID)
				if err != nil {
					return err
				}
				labels, err := a.Engine.Repo.ListDocumentLabels(ctx, nil, d.ID)
				if err != nil {
					return err
				}
				blocked, err := a.Engine.Repo.HasActiveBlocked(ctx, nil, d.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"document":    d,
					"assignments": assignments,
					"labels":      labels,
					"blocked":     blocked,
				})
			})
		},
	}
	return cmd
}

func docListCmd() *cobra.Command {
	var disposition string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				docs, err := a.Engine.Repo.ListDocuments(ctx, repoFilters(disposition, limit))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Draft", "RFC", "Disposition", "Created"})
				for _, d := range docs {
					draft := ""
					if d.DraftName != nil {
						draft = *d.DraftName
					}
					rfc := ""
					if d.RfcNumber != nil {
						rfc = fmt.Sprintf("%d", *d.RfcNumber)
					}
					tw.AppendRow(table.Row{d.ID, draft, rfc, d.Disposition, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&disposition, "disposition", "", "filter by disposition")
	cmd.Flags().IntVar(&limit, "limit", 0, "limit rows")
	return cmd
}

func docQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the in-progress queue with activity and blocked status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.Queue(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Draft", "Active", "Pending", "Blocked"})
				for _, entry := range entries {
					draft := ""
					if entry.Document.DraftName != nil {
						draft = *entry.Document.DraftName
					}
					var active []string
					for _, as := range entry.ActiveAssignments {
						person := ""
						if as.PersonID != nil {
							person = *as.PersonID
						}
						active = append(active, fmt.Sprintf("%s:%s", as.Role, person))
					}
					var pending []string
					for _, r := range entry.PendingActivities {
						pending = append(pending, string(r))
					}
					blocked := ""
					if entry.Blocked {
						blocked = "BLOCKED"
					}
					tw.AppendRow(table.Row{entry.Document.ID, draft,
						strings.Join(active, ", "), strings.Join(pending, ", "), blocked})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func docDispositionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disposition <document-id> <disposition>",
		Short: "Update document disposition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.SetDisposition(ctx, args[0], domain.Disposition(args[1]), viper.GetString("actor-id")); err != nil {
					return err
				}
				d, err := a.Engine.Repo.GetDocument(ctx, nil, args[0])
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	return cmd
}

func docBlockedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocked <document-id>",
		Short: "Show the blocked verdict and the materialized marker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				verdict, err := a.Engine.IsBlocked(ctx, args[0])
				if err != nil {
					return err
				}
				marked, err := a.Engine.Repo.HasActiveBlocked(ctx, nil, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]bool{"blocked": verdict, "marked": marked})
			})
		},
	}
	return cmd
}

func docActivitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activities <document-id>",
		Short: "Show incomplete and pending activities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				incomplete, err := a.Engine.IncompleteActivities(ctx, args[0])
				if err != nil {
					return err
				}
				pending, err := a.Engine.PendingActivities(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"incomplete": incomplete, "pending": pending})
			})
		},
	}
	return cmd
}

func assignCmd() *cobra.Command {
	as := &cobra.Command{Use: "assign", Short: "Manage assignments"}
	as.AddCommand(assignCreateCmd())
	as.AddCommand(assignStateCmd())
	as.AddCommand(assignTimeCmd())
	return as
}

func assignCreateCmd() *cobra.Command {
	var person, role, comment string
	cmd := &cobra.Command{
		Use:   "create <document-id>",
		Short: "Assign a person to a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.CreateAssignment(ctx, engine.AssignmentCreateOptions{
					DocumentID: args[0],
					PersonID:   person,
					Role:       domain.Role(role),
					Comment:    comment,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&person, "person", "", "person identifier")
	cmd.Flags().StringVar(&role, "role", "", "role name")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	_ = cmd.MarkFlagRequired("person")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func assignStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <assignment-id> <state>",
		Short: "Transition an assignment (in_progress, done, withdrawn)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.UpdateAssignment(ctx, engine.AssignmentUpdateOptions{
					ID:      args[0],
					State:   domain.AssignmentState(args[1]),
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	return cmd
}

func assignTimeCmd() *cobra.Command {
	var spent time.Duration
	cmd := &cobra.Command{
		Use:   "time <assignment-id>",
		Short: "Record time spent on an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.UpdateAssignment(ctx, engine.AssignmentUpdateOptions{
					ID:           args[0],
					AddTimeSpent: spent,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().DurationVar(&spent, "spent", 0, "duration to add, e.g. 1h30m")
	_ = cmd.MarkFlagRequired("spent")
	return cmd
}

func holderCmd() *cobra.Command {
	h := &cobra.Command{Use: "holder", Short: "Manage action holders"}
	h.AddCommand(holderAddCmd())
	h.AddCommand(holderCompleteCmd())
	h.AddCommand(holderListCmd())
	return h
}

func holderAddCmd() *cobra.Command {
	var person, body, deadline, comment string
	cmd := &cobra.Command{
		Use:   "add <document-id>",
		Short: "Open an action holder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.AddActionHolder(ctx, engine.ActionHolderCreateOptions{
					DocumentID: args[0],
					PersonID:   person,
					Body:       body,
					Deadline:   deadline,
					Comment:    comment,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&person, "person", "", "person identifier")
	cmd.Flags().StringVar(&body, "body", "", "what is awaited")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func holderCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <action-holder-id>",
		Short: "Complete an action holder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.CompleteActionHolder(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func holderListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <document-id>",
		Short: "List action holders on a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListActionHolders(ctx, nil, args[0])
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	return cmd
}

func labelCmd() *cobra.Command {
	l := &cobra.Command{Use: "label", Short: "Manage document labels"}
	l.AddCommand(&cobra.Command{
		Use:   "add <document-id> <slug>",
		Short: "Attach a label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.AddLabel(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	})
	l.AddCommand(&cobra.Command{
		Use:   "remove <document-id> <slug>",
		Short: "Detach a label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.RemoveLabel(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	})
	l.AddCommand(&cobra.Command{
		Use:   "list <document-id>",
		Short: "List labels on a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				slugs, err := a.Engine.Repo.ListDocumentLabels(ctx, nil, args[0])
				if err != nil {
					return err
				}
				return printJSON(slugs)
			})
		},
	})
	return l
}

func refCmd() *cobra.Command {
	r := &cobra.Command{Use: "ref", Short: "Manage reference relationships"}
	r.AddCommand(refAddCmd())
	r.AddCommand(&cobra.Command{
		Use:   "remove <reference-id>",
		Short: "Remove a reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.RemoveRelatedDocument(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	})
	r.AddCommand(&cobra.Command{
		Use:   "list <document-id>",
		Short: "List references from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				refs, err := a.Engine.Repo.ListRelatedBySource(ctx, nil, args[0], "")
				if err != nil {
					return err
				}
				return printJSON(refs)
			})
		},
	})
	return r
}

func refAddCmd() *cobra.Command {
	var relationship, targetDoc, targetDraft string
	cmd := &cobra.Command{
		Use:   "add <document-id>",
		Short: "Record a reference relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rd, err := a.Engine.AddRelatedDocument(ctx, engine.RelatedDocumentOptions{
					SourceID:         args[0],
					Relationship:     domain.Relationship(relationship),
					TargetDocumentID: targetDoc,
					TargetDraftName:  targetDraft,
					ActorID:          viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(rd)
			})
		},
	}
	cmd.Flags().StringVar(&relationship, "relationship", "", "not-received, refqueue or withdrawn")
	cmd.Flags().StringVar(&targetDoc, "target", "", "target document id")
	cmd.Flags().StringVar(&targetDraft, "target-draft", "", "target draft name (not in queue)")
	_ = cmd.MarkFlagRequired("relationship")
	return cmd
}

func approvalCmd() *cobra.Command {
	ap := &cobra.Command{Use: "approval", Short: "Manage final approvals"}
	reqCmd := &cobra.Command{
		Use:   "request <document-id>",
		Short: "Request final approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := cmd.Flags().GetString("body")
			approver, _ := cmd.Flags().GetString("approver")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fa, err := a.Engine.RequestFinalApproval(ctx, args[0], body, approver, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(fa)
			})
		},
	}
	reqCmd.Flags().String("body", "", "what needs approval")
	reqCmd.Flags().String("approver", "", "expected approver")
	ap.AddCommand(reqCmd)
	grantCmd := &cobra.Command{
		Use:   "grant <approval-id>",
		Short: "Grant final approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			approver, _ := cmd.Flags().GetString("approver")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if approver == "" {
					approver = viper.GetString("actor-id")
				}
				return a.Engine.GrantFinalApproval(ctx, args[0], approver, viper.GetString("actor-id"))
			})
		},
	}
	grantCmd.Flags().String("approver", "", "approver (defaults to actor)")
	ap.AddCommand(grantCmd)
	return ap
}

func clusterCmd() *cobra.Command {
	cl := &cobra.Command{Use: "cluster", Short: "Manage cluster membership"}
	var order int
	addCmd := &cobra.Command{
		Use:   "add <cluster-number> <draft-name>",
		Short: "Add a draft to a cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseInt(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.AddClusterMember(ctx, n, args[1], order, viper.GetString("actor-id"))
			})
		},
	}
	addCmd.Flags().IntVar(&order, "order", 0, "order within the cluster")
	cl.AddCommand(addCmd)
	cl.AddCommand(&cobra.Command{
		Use:   "remove <cluster-number> <draft-name>",
		Short: "Remove a draft from a cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseInt(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.RemoveClusterMember(ctx, n, args[1], viper.GetString("actor-id"))
			})
		},
	})
	cl.AddCommand(&cobra.Command{
		Use:   "list <cluster-number>",
		Short: "List cluster members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseInt(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListClusterMembers(ctx, nil, n)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	})
	return cl
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <document-id>",
		Short: "Reconcile one document's blocked marker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				transitioned, err := a.Engine.Reconcile(ctx, args[0])
				if err != nil {
					return err
				}
				blocked, err := a.Engine.Repo.HasActiveBlocked(ctx, nil, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]bool{"transitioned": transitioned, "blocked": blocked})
			})
		},
	}
	return cmd
}

func sweepCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile all in-progress documents, once or periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.ReconcileAllInProgress(ctx); err != nil {
					return err
				}
				if every <= 0 {
					return nil
				}
				ticker := time.NewTicker(every)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if err := a.Engine.ReconcileAllInProgress(ctx); err != nil {
							fmt.Fprintln(os.Stderr, "sweep:", err)
						}
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat at this interval, e.g. 5m")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened to the queue.",
	}
	var limit int
	var docID, evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.LatestEvents(ctx, limit, docID, evtType, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Document", "Entity", "Actor"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.DocumentID,
						fmt.Sprintf("%s/%s", ev.EntityKind, ev.EntityID), ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "rows to show")
	tail.Flags().StringVar(&docID, "document", "", "filter by document id")
	tail.Flags().StringVar(&evtType, "type", "", "filter by event type")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				secret := os.Getenv("PURPLE_JWT_SECRET")
				if secret == "" {
					secret = a.Config.Server.JWTSecret
				}
				if secret == "" && !allowLegacy {
					return fmt.Errorf("PURPLE_JWT_SECRET is required for bearer auth (or use --allow-legacy-actor-header)")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: allowLegacy || a.Config.Server.AllowLegacyActorHeader,
						Logger:                 a.Log,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Purple API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Quiet:     viper.GetBool("quiet"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func parseInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}

func repoFilters(disposition string, limit int) repo.DocumentFilters {
	return repo.DocumentFilters{Disposition: domain.Disposition(disposition), Limit: limit}
}
