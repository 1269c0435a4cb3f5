package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fleetd/fleetd/api/rpc"
	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/memsize"
	"github.com/fleetd/fleetd/internal/output"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagAddress string
	flagOutput  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetctl",
	Short:   "fleetctl - control fleetd-managed instances",
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddress, "address", "unix:///var/run/fleetd.sock", "fleetd listen address, unix:///path or tcp://host:port")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "output format for instance listings: table, yaml, json")

	rootCmd.AddCommand(createInstanceCmd)
	rootCmd.AddCommand(launchInstanceCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(suspendCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(sshInfoCmd)
	rootCmd.AddCommand(networksCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(umountCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonInfoCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(authenticateCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(restoreCmd)
}

// dial opens a gRPC connection against flagAddress. Unix sockets carry
// no transport credentials (Gate's bootstrap policy trusts the local
// peer); the tcp:// mTLS path is a later fleetctl enhancement, not
// required for a same-host client talking to a unix socket.
func dial(ctx context.Context) (*rpc.Client, *grpc.ClientConn, error) {
	var target string

	switch {
	case strings.HasPrefix(flagAddress, "unix://"):
		// grpc-go's built-in unix resolver accepts the scheme as-is.
		target = flagAddress
	case strings.HasPrefix(flagAddress, "tcp://"):
		target = strings.TrimPrefix(flagAddress, "tcp://")
	default:
		return nil, nil, fmt.Errorf("unsupported address scheme %q, want unix:// or tcp://", flagAddress)
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", flagAddress, err)
	}
	return rpc.NewClient(conn), conn, nil
}

// invoke opens one Call stream for req, echoes progress/log replies to
// stdout, auto-accepts confirmation prompts (fleetctl runs
// non-interactively in this form), and returns the terminal status.
func invoke(ctx context.Context, req *rpc.Request) (*rpc.Status, error) {
	client, conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stream, err := client.Call(ctx, req)
	if err != nil {
		return nil, err
	}

	status, err := rpc.Drain(stream, func(reply *rpc.Reply) {
		switch {
		case reply.LogLine != "":
			fmt.Fprintln(os.Stderr, reply.LogLine)
		case reply.LaunchProgress != nil:
			fmt.Printf("%s: %d%%\n", reply.LaunchProgress.Type, reply.LaunchProgress.Percent)
		case reply.UpdateInfo != nil:
			fmt.Printf("update available for %s: %s\n", reply.UpdateInfo.Instance, reply.UpdateInfo.NewVersion)
		case reply.Confirm != nil:
			fmt.Println(reply.Confirm.Message)
			_ = stream.Send(&rpc.Request{Confirm: &rpc.ConfirmAnswer{Accepted: true}})
		case reply.ReplyMessage != "":
			fmt.Println(reply.ReplyMessage)
		case len(reply.Instances) > 0:
			printInstances(reply.Instances)
		case len(reply.Settings) > 0:
			printSettings(reply.Settings)
		case len(reply.Keys) > 0:
			for _, k := range reply.Keys {
				fmt.Println(k)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: %w", err)
	}
	return status, nil
}

func finish(status *rpc.Status, err error) error {
	if err != nil {
		return err
	}
	if !status.OK {
		return fmt.Errorf("%s: %s", status.Kind, status.Message)
	}
	return nil
}

// printInstances renders the wire-level InstanceInfo projection through
// internal/output, reconstructing just enough of the domain type
// (internal/output.Formatter's native input) to format consistently.
func printInstances(instances []rpc.InstanceInfo) {
	formatter, err := output.NewFormatter(output.Options{Format: output.Format(flagOutput)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "output: %v\n", err)
		return
	}

	insts := make([]*v1alpha1.Instance, 0, len(instances))
	for _, info := range instances {
		memSize, _ := memsize.Parse(info.MemSize)
		diskSpace, _ := memsize.Parse(info.DiskSpace)

		addrs := make([]v1alpha1.VMAddress, 0, len(info.IPv4))
		for _, ip := range info.IPv4 {
			addrs = append(addrs, v1alpha1.VMAddress{Type: "InternalIP", Address: ip})
		}

		insts = append(insts, &v1alpha1.Instance{
			ObjectMeta: v1alpha1.ObjectMeta{Name: info.Name},
			Spec: v1alpha1.InstanceSpec{
				NumCores:  info.NumCores,
				MemSize:   memSize,
				DiskSpace: diskSpace,
				ImageID:   info.ImageID,
			},
			Status: v1alpha1.InstanceStatus{
				State:     info.State,
				Deleted:   info.Deleted,
				Addresses: addrs,
			},
		})
	}

	text, err := formatter.FormatInstanceList(insts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "output: %v\n", err)
		return
	}
	fmt.Print(text)
}

func printSettings(settings map[string]string) {
	for k, v := range settings {
		fmt.Printf("%s=%s\n", k, v)
	}
}

var (
	flagImage      string
	flagCPUs       int
	flagMemory     string
	flagDisk       string
	flagBridged    bool
	flagMountDir   []string
	flagInterfaces []string
)

func createCmd(launch bool) *cobra.Command {
	method := rpc.MethodCreate
	use := "create <name>"
	short := "Create an instance without starting it"
	if launch {
		method = rpc.MethodLaunch
		use = "launch <name>"
		short = "Create and start an instance"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := memsize.Parse(flagMemory)
			if err != nil {
				return fmt.Errorf("--memory: %w", err)
			}
			disk, err := memsize.Parse(flagDisk)
			if err != nil {
				return fmt.Errorf("--disk: %w", err)
			}
			create := &rpc.CreateRequest{
				Name:      args[0],
				Image:     flagImage,
				NumCores:  flagCPUs,
				MemSize:   mem.String(),
				DiskSpace: disk.String(),
				Bridged:   flagBridged,
			}
			if len(flagMountDir) > 0 {
				create.Mounts = make(map[string]v1alpha1.VMMount, len(flagMountDir))
				for _, spec := range flagMountDir {
					source, target, err := parseMountFlag(spec)
					if err != nil {
						return err
					}
					create.Mounts[target] = v1alpha1.VMMount{
						SourcePath: source,
						Type:       v1alpha1.MountTypeNative,
					}
				}
			}
			for _, spec := range flagInterfaces {
				id, mac, err := parseInterfaceFlag(spec)
				if err != nil {
					return err
				}
				create.Interfaces = append(create.Interfaces, rpc.CreateInterface{ID: id, MAC: mac})
			}
			req := &rpc.Request{Method: method}
			if launch {
				req.Launch = create
			} else {
				req.Create = create
			}
			return finish(invoke(cmd.Context(), req))
		},
	}
}

func parseMountFlag(spec string) (source, target string, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("--mount: expected source:target, got %q", spec)
	}
	return parts[0], parts[1], nil
}

// parseInterfaceFlag parses "--interface" values of the form "id" or
// "id:mac"; an omitted MAC is minted by the daemon.
func parseInterfaceFlag(spec string) (id, mac string, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("--interface: expected id or id:mac, got %q", spec)
	}
	if len(parts) == 2 {
		return parts[0], parts[1], nil
	}
	return parts[0], "", nil
}

var createInstanceCmd = createCmd(false)
var launchInstanceCmd = createCmd(true)

func init() {
	for _, cmd := range []*cobra.Command{createInstanceCmd, launchInstanceCmd} {
		cmd.Flags().StringVar(&flagImage, "image", "", "image alias or hash to create the instance from")
		cmd.Flags().IntVar(&flagCPUs, "cpus", 1, "number of virtual CPU cores")
		cmd.Flags().StringVar(&flagMemory, "memory", "1G", "amount of RAM (e.g. 1G, 512M)")
		cmd.Flags().StringVar(&flagDisk, "disk", "5G", "amount of disk space (e.g. 5G)")
		cmd.Flags().BoolVar(&flagBridged, "bridged", false, "attach a bridged network interface")
		cmd.Flags().StringArrayVar(&flagMountDir, "mount", nil, "host:guest directory share, repeatable")
		cmd.Flags().StringArrayVar(&flagInterfaces, "interface", nil, "extra network interface id[:mac], repeatable")
	}
}

func namesCmd(use, short, method string, minArgs int) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(minArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &rpc.Request{Method: method, Names: args}
			return finish(invoke(cmd.Context(), req))
		},
	}
}

var startCmd = namesCmd("start <name>...", "Start one or more instances", rpc.MethodStart, 1)

var (
	flagStopTime   int
	flagStopCancel bool
)

var stopCmd = &cobra.Command{
	Use:   "stop <name>...",
	Short: "Stop one or more instances",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{
			Method: rpc.MethodStop,
			Names:  args,
			Stop:   &rpc.StopRequest{Delay: flagStopTime, Cancel: flagStopCancel},
		}
		return finish(invoke(cmd.Context(), req))
	},
}

func init() {
	stopCmd.Flags().IntVar(&flagStopTime, "time", 0, "delay in seconds before shutting down")
	stopCmd.Flags().BoolVar(&flagStopCancel, "cancel", false, "cancel a pending delayed shutdown")
}

var suspendCmd = namesCmd("suspend <name>...", "Suspend one or more instances", rpc.MethodSuspend, 1)
var restartCmd = namesCmd("restart <name>...", "Restart one or more instances", rpc.MethodRestart, 1)
var deleteCmd = namesCmd("delete <name>...", "Soft-delete one or more instances", rpc.MethodDelete, 1)
var purgeCmd = namesCmd("purge [name...]", "Permanently remove deleted instances", rpc.MethodPurge, 0)
var recoverCmd = namesCmd("recover <name>...", "Undo a soft-delete", rpc.MethodRecover, 1)
var findCmd = namesCmd("find <name>...", "Look up instances by name", rpc.MethodFind, 1)
var infoCmd = namesCmd("info [name...]", "Show detailed instance information", rpc.MethodInfo, 0)
var keysCmd = namesCmd("keys", "List supported settings keys", rpc.MethodKeys, 0)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{Method: rpc.MethodList}
		return finish(invoke(cmd.Context(), req))
	},
}

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List available host networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{Method: rpc.MethodNetworks}
		return finish(invoke(cmd.Context(), req))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show client and daemon versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("fleetctl %s (commit %s)\n", version, commit)
		req := &rpc.Request{Method: rpc.MethodVersion}
		return finish(invoke(cmd.Context(), req))
	},
}

var daemonInfoCmd = &cobra.Command{
	Use:   "daemon-info",
	Short: "Show daemon diagnostic information",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{Method: rpc.MethodDaemonInfo}
		return finish(invoke(cmd.Context(), req))
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check whether the client is already authenticated",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{Method: rpc.MethodPing}
		return finish(invoke(cmd.Context(), req))
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone <source> <target>",
	Short: "Copy an instance's spec under a new name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{Method: rpc.MethodClone, Clone: &rpc.CloneRequest{Source: args[0], Target: args[1]}}
		return finish(invoke(cmd.Context(), req))
	},
}

var sshInfoCmd = &cobra.Command{
	Use:   "ssh-info <name>",
	Short: "Show an instance's SSH connection details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{Method: rpc.MethodSSHInfo, SSHInfo: &rpc.SSHInfoRequest{Instance: args[0]}}
		return finish(invoke(cmd.Context(), req))
	},
}

var mountUIDMap, mountGIDMap []string
var mountClassic bool

var mountCmd = &cobra.Command{
	Use:   "mount <source> <name>:<target>",
	Short: "Mount a local directory into an instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, target, err := splitInstanceTarget(args[1])
		if err != nil {
			return err
		}
		mountType := v1alpha1.MountTypeNative
		if mountClassic {
			mountType = v1alpha1.MountTypeClassic
		}
		spec := v1alpha1.VMMount{
			SourcePath:  args[0],
			Type:        mountType,
			UIDMappings: parseIDMappings(mountUIDMap),
			GIDMappings: parseIDMappings(mountGIDMap),
		}
		req := &rpc.Request{Method: rpc.MethodMount, Mount: &rpc.MountRequest{Instance: instance, Target: target, Spec: spec}}
		return finish(invoke(cmd.Context(), req))
	},
}

func init() {
	mountCmd.Flags().StringArrayVar(&mountUIDMap, "uid-map", nil, "host:guest UID mapping, repeatable")
	mountCmd.Flags().StringArrayVar(&mountGIDMap, "gid-map", nil, "host:guest GID mapping, repeatable")
	mountCmd.Flags().BoolVar(&mountClassic, "classic", false, "use the Classic (SSHFS-style) mount handler instead of the native share")
}

func parseIDMappings(entries []string) []v1alpha1.IDMapping {
	var out []v1alpha1.IDMapping
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 2)
		if len(parts) != 2 {
			continue
		}
		var host, guest int
		fmt.Sscanf(parts[0], "%d", &host)
		fmt.Sscanf(parts[1], "%d", &guest)
		out = append(out, v1alpha1.IDMapping{HostID: host, GuestID: guest})
	}
	return out
}

func splitInstanceTarget(s string) (instance, target string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected name:target, got %q", s)
	}
	return parts[0], parts[1], nil
}

var umountCmd = &cobra.Command{
	Use:   "umount <name>[:<target>]",
	Short: "Unmount a directory share from an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, target := args[0], ""
		if idx := strings.IndexByte(args[0], ':'); idx >= 0 {
			instance, target = args[0][:idx], args[0][idx+1:]
		}
		req := &rpc.Request{Method: rpc.MethodUmount, Umount: &rpc.UmountRequest{Instance: instance, Target: target}}
		return finish(invoke(cmd.Context(), req))
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a settings key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{Method: rpc.MethodGet, Get: &rpc.GetRequest{Key: args[0]}}
		return finish(invoke(cmd.Context(), req))
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key>=<value>",
	Short: "Write a settings key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value, ok := strings.Cut(args[0], "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", args[0])
		}
		req := &rpc.Request{Method: rpc.MethodSet, Set: &rpc.SetRequest{Key: key, Value: value}}
		return finish(invoke(cmd.Context(), req))
	},
}

var authenticateCmd = &cobra.Command{
	Use:   "authenticate <passphrase>",
	Short: "Trust this client's certificate with the daemon's passphrase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{Method: rpc.MethodAuthenticate, Authenticate: &rpc.AuthenticateRequest{Passphrase: args[0]}}
		return finish(invoke(cmd.Context(), req))
	},
}

var snapshotComment string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <name> [snapshot-name]",
	Short: "Take a snapshot of an instance",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap := &rpc.SnapshotRequest{Instance: args[0], Comment: snapshotComment}
		if len(args) == 2 {
			snap.Name = args[1]
		}
		req := &rpc.Request{Method: rpc.MethodSnapshot, Snapshot: snap}
		return finish(invoke(cmd.Context(), req))
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotComment, "comment", "", "snapshot comment")
}

var restoreDestructive bool

var restoreCmd = &cobra.Command{
	Use:   "restore <name> <snapshot>",
	Short: "Restore an instance to a prior snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.Request{
			Method: rpc.MethodRestore,
			Restore: &rpc.RestoreRequest{
				Instance:    args[0],
				Snapshot:    args[1],
				Destructive: restoreDestructive,
			},
		}
		return finish(invoke(cmd.Context(), req))
	},
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreDestructive, "destructive", false, "discard state newer than the restored snapshot")
}
