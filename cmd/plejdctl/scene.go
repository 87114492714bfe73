package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/roster"
)

var sceneCmd = &cobra.Command{
	Use:   "scene",
	Short: "List or activate mesh scenes",
}

var sceneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scenes in the loaded roster",
	RunE:  runSceneList,
}

var sceneActivateCmd = &cobra.Command{
	Use:   "activate <name>",
	Short: "Activate a scene by name",
	Args:  cobra.ExactArgs(1),
	RunE:  runSceneActivate,
}

func init() {
	sceneCmd.AddCommand(sceneListCmd, sceneActivateCmd)
}

func runSceneList(cmd *cobra.Command, args []string) error {
	m, _, err := initManager(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	scenes := m.Scenes()
	if len(scenes) == 0 {
		fmt.Println("no scenes in roster")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME")
	for _, s := range scenes {
		fmt.Fprintf(w, "%d\t%s\n", s.Index(), s.Name())
	}
	return w.Flush()
}

func runSceneActivate(cmd *cobra.Command, args []string) error {
	m, _, err := initManager(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	var target *roster.Scene
	for _, s := range m.Scenes() {
		if strings.EqualFold(s.Name(), args[0]) {
			target = s
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no scene named %q in the loaded roster", args[0])
	}

	if _, err := m.Ping(context.Background()); err != nil {
		return err
	}
	defer m.Disconnect()

	if err := m.Execute(context.Background(), target.Activate()); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}
