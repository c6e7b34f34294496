package providers

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/invitewarden/invitewarden-server/internal/config"
	"github.com/invitewarden/invitewarden-server/internal/directory"
	"github.com/invitewarden/invitewarden-server/internal/logger"
)

// ProvideDirectory provides the guild directory REST client.
func ProvideDirectory(i do.Injector) (directory.Directory, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Directory.BaseURL == "" || cfg.Directory.Token == "" {
		return nil, fmt.Errorf("directory URL and token are required (set DIRECTORY_URL and DIRECTORY_TOKEN)")
	}

	client, err := directory.NewRESTClient(directory.RESTConfig{
		BaseURL:           cfg.Directory.BaseURL,
		Token:             cfg.Directory.Token,
		RequestsPerSecond: cfg.Directory.RequestsPerSecond,
		Timeout:           cfg.Directory.Timeout,
	})
	if err != nil {
		return nil, err
	}

	log.Info("Directory client initialized",
		"base_url", cfg.Directory.BaseURL,
		"rps", cfg.Directory.RequestsPerSecond,
	)

	return client, nil
}
