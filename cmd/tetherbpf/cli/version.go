package cli

import "runtime/debug"

// VersionCmd prints build information.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(cli *CLI) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return cli.PrintOut("tetherbpf (no build info)\n")
	}

	version := info.Main.Version
	if version == "" {
		version = "(devel)"
	}

	var revision, modified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				modified = " (modified)"
			}
		}
	}

	if err := cli.PrintOutf("tetherbpf %s %s\n", version, info.GoVersion); err != nil {
		return err
	}
	if revision != "" {
		return cli.PrintOutf("  revision %s%s\n", revision, modified)
	}
	return nil
}
