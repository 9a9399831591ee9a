package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterConfig = `# Gantry pipeline config. Adjust stages, token, and webhooks, then:
#   gantry validate && gantry run

pipeline:
  name: hummingbot
  repo: https://github.com/coinalpha/hummingbot

options:
  workspace: /var/lib/gantry/workspace/hummingbot
  timeout: 60m
  keep_runs: 10

stages:
  - name: Versions
    kind: tooling
    commands:
      - which python
      - python --version
      - which /opt/conda/envs/hummingbot/bin/python
      - /opt/conda/envs/hummingbot/bin/python --version
      - cat hummingbot/VERSION

  - name: Build hummingbot
    kind: build
    pending: "Jenkins is building..."
    commands:
      - . /opt/conda/bin/deactivate
      - ./uninstall
      - ./install
      - . /opt/conda/bin/activate hummingbot
      - /opt/conda/envs/hummingbot/bin/python setup.py build_ext --inplace

  - name: Run tests
    kind: test
    pending: "Jenkins is running your tests..."
    unstable_exit_codes: [1]
    commands:
      - /opt/conda/envs/hummingbot/bin/nosetests -d -v test/test*.py

status:
  token: ${GITHUB_TOKEN}

notify:
  services:
    - ${DISCORD_WEBHOOK_URL}

triggers:
  cron: "0 */4 * * *"
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter gantry.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path := "gantry.yaml"
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		fmt.Printf("wrote %s\n", path)
		fmt.Println("set GITHUB_TOKEN and DISCORD_WEBHOOK_URL (or edit the config), then run: gantry validate")
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}
