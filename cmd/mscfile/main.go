// Command mscfile is a thin CLI over the library: enough to exercise every
// registered backend by hand (ls, stat, cat, cp, mv, rm, mkdir) without
// pulling in a FUSE mount or a daemon loop.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NVIDIA/mscfile/backend"
	"github.com/NVIDIA/mscfile/backend/hdfs"
	"github.com/NVIDIA/mscfile/backend/httpx"
	"github.com/NVIDIA/mscfile/backend/localfs"
	"github.com/NVIDIA/mscfile/backend/s3"
	"github.com/NVIDIA/mscfile/backend/sftp"
	"github.com/NVIDIA/mscfile/backend/stdio"
	"github.com/NVIDIA/mscfile/backend/webdav"
	"github.com/NVIDIA/mscfile/mscconfig"
	"github.com/NVIDIA/mscfile/telemetry"
	"github.com/NVIDIA/mscfile/transfer"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := mscconfig.LoadFromEnv()
	if aliasFile := os.Getenv("MSC_CONFIG"); aliasFile != "" {
		entries, err := mscconfig.LoadAliasFile(aliasFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mscfile: loading alias file: %v\n", err)
			os.Exit(1)
		}
		mscconfig.ApplyAliases(entries)
	}

	registerBackends(cfg)

	if cfg.Telemetry.Enabled {
		telemetry.Register(prometheus.DefaultRegisterer)
		if _, err := telemetry.Setup(telemetry.Config{
			Enabled:      cfg.Telemetry.Enabled,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Attributes: []telemetry.Provider{
				telemetry.HostAttributes{Key: "host.name"},
				telemetry.ProcessAttributes{Key: "process.pid"},
				telemetry.StaticAttributes(cfg.Telemetry.StaticAttributes),
			},
		}); err != nil {
			fmt.Fprintf(os.Stderr, "mscfile: telemetry setup: %v\n", err)
		}
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "ls":
		err = runLs(args)
	case "stat":
		err = runStat(args)
	case "cat":
		err = runCat(args)
	case "cp":
		err = runCp(args, false)
	case "mv":
		err = runCp(args, true)
	case "rm":
		err = runRm(args)
	case "mkdir":
		err = runMkdir(args)
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "mscfile: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "mscfile: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <ls|stat|cat|cp|mv|rm|mkdir> <args...>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  ls <uri>\n")
	fmt.Fprintf(os.Stderr, "  stat <uri>\n")
	fmt.Fprintf(os.Stderr, "  cat <uri>\n")
	fmt.Fprintf(os.Stderr, "  cp <src-uri> <dst-uri>\n")
	fmt.Fprintf(os.Stderr, "  mv <src-uri> <dst-uri>\n")
	fmt.Fprintf(os.Stderr, "  rm <uri>\n")
	fmt.Fprintf(os.Stderr, "  mkdir <uri>\n")
}

// registerBackends wires every backend against the environment-derived
// config, mirroring the profile-keyed S3/HDFS maps mscconfig produces.
func registerBackends(cfg *mscconfig.Config) {
	must(backend.Register("file", localfs.New(), false))
	must(backend.Register("stdio", stdio.New(), false))

	httpClient := httpx.New(0)

	for profile, s3cfg := range cfg.S3 {
		client, err := s3.NewDefaultClient(context.Background(), s3.ClientOptions{
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "mscfile: s3 profile %q: %v\n", profile, err)
			continue
		}
		scheme := "s3"
		if profile != "" {
			scheme = "s3+" + profile
		}
		must(backend.Register(scheme, s3.New(client, profile, s3.Config{}), false))
	}

	for profile, hcfg := range cfg.HDFS {
		if hcfg.URL == "" {
			continue
		}
		scheme := "hdfs"
		if profile != "" {
			scheme = "hdfs+" + profile
		}
		must(backend.Register(scheme, hdfs.New(httpClient, profile, hdfs.Config{
			BaseURL: hcfg.URL,
			User:    hcfg.User,
			Root:    hcfg.Root,
			Token:   hcfg.Token,
			Timeout: hcfg.Timeout,
		}), false))
	}

	sftpDial := sftp.DialSSH(sftp.Config{
		Username:           cfg.SFTP.Username,
		Password:           cfg.SFTP.Password,
		PrivateKeyPath:     cfg.SFTP.PrivateKeyPath,
		PrivateKeyType:     cfg.SFTP.PrivateKeyType,
		PrivateKeyPassword: cfg.SFTP.PrivateKeyPasswd,
	})
	must(backend.Register("sftp", sftp.New(sftpDial, sftp.Config{
		Username: cfg.SFTP.Username,
		Password: cfg.SFTP.Password,
	}), false))

	must(backend.Register("webdav", webdav.New(httpClient, webdav.Config{
		Username:     cfg.WebDAV.Username,
		Password:     cfg.WebDAV.Password,
		Token:        cfg.WebDAV.Token,
		TokenCommand: cfg.WebDAV.TokenCommand,
		Timeout:      cfg.WebDAV.Timeout,
	}, runShellCommand), false))
}

// runShellCommand is the webdav.CommandRunner used outside of tests: it
// runs command through the shell and returns trimmed stdout.
func runShellCommand(command string) (string, error) {
	out, err := exec.Command("sh", "-c", command).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "mscfile: %v\n", err)
	}
}

func endpoint(raw string) (transfer.Endpoint, error) {
	p, b, err := backend.Resolve(raw)
	if err != nil {
		return transfer.Endpoint{}, err
	}
	return transfer.Endpoint{Path: p, Backend: b}, nil
}

func runLs(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("ls: expected one argument")
	}
	ep, err := endpoint(args[0])
	if err != nil {
		return err
	}
	names, err := ep.Backend.Listdir(ep.Path)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runStat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("stat: expected one argument")
	}
	ep, err := endpoint(args[0])
	if err != nil {
		return err
	}
	st, err := ep.Backend.Stat(ep.Path, false)
	if err != nil {
		return err
	}
	fmt.Printf("size: %d\n", st.Size)
	fmt.Printf("mtime: %.0f\n", st.MTime)
	fmt.Printf("is_dir: %v\n", st.IsDirP())
	fmt.Printf("is_symlink: %v\n", st.IsSymlink())
	return nil
}

func runCat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("cat: expected one argument")
	}
	ep, err := endpoint(args[0])
	if err != nil {
		return err
	}
	rc, err := ep.Backend.Load(ep.Path)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(os.Stdout, rc)
	return err
}

func runCp(args []string, move bool) error {
	if len(args) != 2 {
		return fmt.Errorf("expected two arguments")
	}
	src, err := endpoint(args[0])
	if err != nil {
		return err
	}
	dst, err := endpoint(args[1])
	if err != nil {
		return err
	}
	if move {
		return transfer.Move(src, dst, nil, false, true)
	}
	return transfer.Copy(src, dst, nil, false, true)
}

func runRm(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("rm: expected one argument")
	}
	ep, err := endpoint(args[0])
	if err != nil {
		return err
	}
	return ep.Backend.Remove(ep.Path, false)
}

func runMkdir(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("mkdir: expected one argument")
	}
	ep, err := endpoint(args[0])
	if err != nil {
		return err
	}
	return ep.Backend.Mkdir(ep.Path, 0o755, true, true)
}
