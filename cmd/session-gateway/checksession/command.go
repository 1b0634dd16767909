package checksession

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/openkcm/session-gateway/internal/business"
	"github.com/openkcm/session-gateway/internal/cmdutils"
	"github.com/openkcm/session-gateway/internal/config"
	"github.com/openkcm/session-gateway/internal/session"
)

var errUnauthenticated = errors.New("session is not authenticated")

func Cmd(buildInfo string) *cobra.Command {
	var cookie string

	cmd := cmdutils.CobraCommand(
		"check-session",
		"Resolve a session cookie",
		"Resolves the value of a session cookie against the identity provider and exits non-zero unless it belongs to an active session.",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			res, err := business.CheckSession(ctx, cfg, cookie)
			if err != nil {
				return err
			}
			if res.Status != session.Resolved {
				return errUnauthenticated
			}

			return nil
		},
	)

	cmd.Flags().StringVar(&cookie, "cookie", "", "value of the session cookie")
	_ = cmd.MarkFlagRequired("cookie")

	return cmd
}
