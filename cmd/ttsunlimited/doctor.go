package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/go-tts-unlimited/internal/config"
	"github.com/example/go-tts-unlimited/internal/doctor"
	"github.com/example/go-tts-unlimited/internal/remote"
	"github.com/example/go-tts-unlimited/internal/tts"
	"github.com/spf13/cobra"
)

const doctorProbeTimeout = 15 * time.Second

func newDoctorCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run remote app and local environment checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(stdout, "remote: %s (%s)\n", cfg.Remote.BaseURL, cfg.Remote.Transport)

			result := doctor.Run(doctor.Config{
				RemoteVersion: func() (string, error) {
					return probeRemoteVersion(cmd.Context(), cfg.Remote)
				},
				SkipRemote: offline,
				Transport:  cfg.Remote.Transport,
				CABundle:   cfg.Fetch.CABundle,
				StorageDir: cfg.Storage.Dir,
				Voices:     tts.NewVoiceManager().IDs(),
			}, stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(stdout, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the remote app check")

	return cmd
}

func probeRemoteVersion(ctx context.Context, cfg config.RemoteConfig) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	client, err := remote.New(cfg)
	if err != nil {
		return "", err
	}
	return client.Probe(ctx)
}
