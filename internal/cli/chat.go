package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/client"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/relay"
	"github.com/soyeahso/memarena/internal/stream"
)

func newChatCmd() *cobra.Command {
	var (
		conn      clientFlags
		sessionID string
		model     string
		files     []string
		projectID string
		cookie    string
		live      bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask all three agents one question and show their replies",
		Long: "chat sends one message to the memorylake, mem0 and supermemory agents and waits\n" +
			"for all three replies. Without --session a new session is created. With --session\n" +
			"and no message, a round left pending by an interrupted chat is resumed.\n" +
			"Ctrl-C stops every stream and keeps what was received so far.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := conn.newClient(&cfg)
			if err != nil {
				return err
			}
			if model == "" {
				model = cfg.Client.Model
			}
			if projectID == "" {
				projectID = cfg.Client.ProjectID
			}
			text := strings.TrimSpace(strings.Join(args, " "))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data dirs: %w", err)
			}
			storage, err := relay.NewFileStorage(paths.Pending)
			if err != nil {
				return err
			}
			rel := relay.New(storage, log)

			var profile map[string]any
			if cookie != "" {
				p, err := c.Profile(ctx, cfg.Identity.SessionCookie, cookie)
				if err != nil {
					return fmt.Errorf("fetching profile: %w", err)
				}
				profile = profileMap(p.ArenaProfile)
				if projectID == "" && p.ArenaProfile != nil {
					projectID = p.ArenaProfile.ProjID
				}
			}

			var sess *client.Session
			switch {
			case sessionID != "" && text == "":
				// Nothing to ask: resume whatever was relayed for this session.
				sess = c.Open(sessionID)
				if err := sess.Load(ctx); err != nil {
					return err
				}
				sess.Profile = profile
				attachLive(sess, live)
				found, err := sess.SubmitPending(ctx, rel)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no pending message for session %s", sessionID)
				}

			case text == "":
				return fmt.Errorf("a message is required")

			default:
				atts, err := uploadFiles(ctx, c, projectID, files)
				if err != nil {
					return err
				}
				if sessionID == "" {
					sess, err = c.Begin(ctx, rel, relay.Pending{ModelID: model, Text: text, Attachments: atts})
					if err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "session %s\n", sess.ID)
					sess.Profile = profile
					attachLive(sess, live)
					if _, err := sess.SubmitPending(ctx, rel); err != nil {
						return err
					}
				} else {
					sess = c.Open(sessionID)
					if err := sess.Load(ctx); err != nil {
						return err
					}
					sess.Profile = profile
					attachLive(sess, live)
					if _, err := sess.Submit(ctx, model, text, atts); err != nil {
						return err
					}
				}
			}

			sess.Wait()

			all := sess.Rounds()
			if len(all) == 0 {
				return nil
			}
			last := all[len(all)-1]
			renderRound(os.Stdout, len(all), last, sess.Cells(last, true))
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	cmd.Flags().StringVar(&model, "model", "", "model id (default client.model, then "+domain.DefaultModel+")")
	cmd.Flags().StringArrayVar(&files, "file", nil, "attach a file (repeatable)")
	cmd.Flags().StringVar(&projectID, "project", "", "Arena project the attachments belong to")
	cmd.Flags().StringVar(&cookie, "cookie", "", "main-domain session cookie; sends the Memory Lake profile")
	cmd.Flags().BoolVar(&live, "live", false, "print each agent's progress as it streams")

	return cmd
}

// uploadFiles uploads and ingests the files, printing the upload status.
func uploadFiles(ctx context.Context, c *client.Client, projectID string, names []string) ([]domain.Attachment, error) {
	if len(names) == 0 {
		return nil, nil
	}
	files, err := readFiles(names)
	if err != nil {
		return nil, err
	}
	return c.PrepareAttachments(ctx, nil, projectID, files, func(s arena.UploadStatus) {
		fmt.Fprintf(os.Stderr, "attachments: %s\n", s)
	})
}

// attachLive prints one progress line per agent when its stream starts and
// ends.
func attachLive(sess *client.Session, live bool) {
	if !live {
		return
	}
	sess.OnFragment = func(agent domain.AgentID, f stream.Fragment) {
		switch f.Type {
		case stream.KindStart:
			fmt.Fprintf(os.Stderr, "%s: streaming\n", agent)
		case stream.KindFinish:
			fmt.Fprintf(os.Stderr, "%s: done\n", agent)
		case stream.KindError:
			fmt.Fprintf(os.Stderr, "%s: error: %s\n", agent, f.ErrorText)
		}
	}
}
