package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-gateway/internal/business"
	"github.com/openkcm/session-gateway/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Session Gateway API server",
		"Session Gateway API server renders pages with the resolved session and drives the login, registration and logout flows of the identity provider.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
