// Command cppkg drives dependency resolution and a Ninja-backed C++
// build from a declarative project manifest. It is deliberately thin:
// flag parsing, environment defaults, and exit-code mapping only, with
// every real decision made inside the driver package.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cppkg/cppkg/driver"
	"github.com/cppkg/cppkg/registry"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		release     bool
		debug       bool
		verbose     bool
		projectRoot string
		registryURL string
		includeDev  bool
		parallelism int
	)

	root := &cobra.Command{
		Use:           "cppkg",
		Short:         "resolve dependencies and drive a Ninja build for a C++ project",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&registryURL, "registry", "https://registry.cppkg.dev", "package registry base URL")

	build := &cobra.Command{
		Use:   "build",
		Short: "resolve, fetch, plan, and build the project in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := "debug"
			if release {
				profile = "release"
			}

			cfg := driver.Config{
				ProjectRoot:    projectRoot,
				Profile:        profile,
				Verbose:        verbose,
				Parallelism:    parallelism,
				IncludeDevDeps: includeDev,
				Toolchain:      driver.ToolchainFromEnv(),
				Registry: registry.Config{
					BaseURL:        registryURL,
					ConnectTimeout: 10 * time.Second,
					TotalDeadline:  60 * time.Second,
				},
			}

			result, err := driver.Run(cmd.Context(), cfg)
			if verbose && result.Target != "" {
				log.Printf("cppkg: built %s", result.Target)
			}
			return err
		},
	}
	build.Flags().BoolVar(&release, "release", false, "build the release profile instead of debug")
	build.Flags().BoolVar(&debug, "debug", false, "build the debug profile (the default)")
	build.MarkFlagsMutuallyExclusive("release", "debug")
	build.Flags().BoolVarP(&verbose, "verbose", "v", false, "pass -v to ninja and log the resolved target")
	build.Flags().StringVar(&projectRoot, "project", ".", "project root containing the manifest")
	build.Flags().BoolVar(&includeDev, "include-dev-deps", false, "resolve and link dev-dependencies too")
	build.Flags().IntVarP(&parallelism, "jobs", "j", 0, "build parallelism (0 = host CPU count, floor 4)")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "search the registry for packages matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := registry.New(registry.Config{
				BaseURL:        registryURL,
				ConnectTimeout: 10 * time.Second,
				TotalDeadline:  30 * time.Second,
			})
			results, err := client.Search(cmd.Context(), args[0], 20)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no packages found")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%-24s %-12s %s\n", r.Name, r.Version, r.Description)
			}
			return nil
		},
	}

	root.AddCommand(build, search)
	root.SetArgs(os.Args[1:])

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "cppkg: %v\n", err)
		return driver.ExitCodeFor(err)
	}
	return 0
}
