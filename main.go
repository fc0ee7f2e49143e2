package main

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"plcreg/bitfield"
	"plcreg/regfile"
)

// Version information - these will be set during build
var (
	buildVersion = "v0.4"
	buildCommit  = "unknown"
	buildTime    = "unknown"
)

var log = logrus.WithField("prefix", "plcreg")

// Calculate a port number based on connection name
func getPortForConnection(baseName string, basePort int) int {
	if baseName == "default" {
		return basePort
	}

	h := fnv.New32a()
	h.Write([]byte(baseName))

	// Use the hash to derive a port in the range 10000-65000
	return 10000 + int(h.Sum32()%55000)
}

// Get the service descriptor based on connection name
func getServiceDescriptor(connectionName string) string {
	if connectionName == "default" {
		return "OPCUA service"
	}
	return fmt.Sprintf("OPCUA service '%s'", connectionName)
}

// connectionFile gives non-default connections their own certificate files.
func connectionFile(path, connection string) string {
	if connection == "default" {
		return path
	}
	return strings.TrimSuffix(path, ".pem") + "-" + connection + ".pem"
}

// connectionError turns "service not reachable" into a hint on how to start it.
func connectionError(err error, connection string) error {
	if !strings.Contains(err.Error(), "connection refused") &&
		!strings.Contains(err.Error(), "cannot connect to OPCUA service") {
		return err
	}
	return cli.Exit(fmt.Sprintf("Error: %s is not running. Start it with:\n  plcreg --connection %s --endpoint opc.tcp://opc-ua-server-ip:4840 service",
		getServiceDescriptor(connection), connection), 1)
}

func servicePort(c *cli.Context) int {
	return getPortForConnection(c.String(connectionFlag.Name), c.Int(portFlag.Name))
}

func setupLogging(c *cli.Context) error {
	verbosity := c.String(verbosityFlag.Name)
	if c.Bool(verboseFlag.Name) {
		verbosity = "debug"
	}
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch format := c.String(logFormatFlag.Name); format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05.000000"
		formatter.FullTimestamp = true
		logrus.SetFormatter(formatter)
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %s", format)
	}
	return nil
}

func loadRegisters(c *cli.Context) (*regfile.File, error) {
	path := c.String(registersFlag.Name)
	if path == "" {
		return nil, errors.Errorf("--%s is required", registersFlag.Name)
	}
	return regfile.Load(path)
}

func lookupRegister(c *cli.Context) (*regfile.Register, error) {
	file, err := loadRegisters(c)
	if err != nil {
		return nil, err
	}
	name := c.String(registerFlag.Name)
	if name == "" {
		return nil, errors.Errorf("--%s is required", registerFlag.Name)
	}
	reg, ok := file.Lookup(name)
	if !ok {
		return nil, errors.Errorf("unknown register %q", name)
	}
	return reg, nil
}

// decodeTarget is the register named by --register, or a bit by bit layout
// when --bits is given.
func decodeTarget(c *cli.Context) (*regfile.Register, error) {
	if !c.IsSet(bitsFlag.Name) {
		return lookupRegister(c)
	}
	width, err := bitfield.ParseWidth(c.Int(bitsFlag.Name))
	if err != nil {
		return nil, err
	}
	var names []string
	if s := c.String(bitNamesFlag.Name); s != "" {
		for _, n := range strings.Split(s, ",") {
			names = append(names, strings.TrimSpace(n))
		}
	}
	return bitRegister(c.String(measurementFlag.Name), width, names)
}

func printRegister(c *cli.Context, resp RegisterResponse) error {
	out, err := formatRegister(c.String(formatFlag.Name), resp, c.String(endpointFlag.Name))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func decodeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one word to decode")
	}
	reg, err := decodeTarget(c)
	if err != nil {
		return err
	}
	word, err := strconv.ParseUint(c.Args().First(), 0, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid word %q", c.Args().First())
	}
	resp, err := decodeRegister(reg, word)
	if err != nil {
		return err
	}
	return printRegister(c, resp)
}

func encodeAction(c *cli.Context) error {
	reg, err := lookupRegister(c)
	if err != nil {
		return err
	}
	values, err := regfile.ParseAssignments(reg.Schema, c.Args().Slice())
	if err != nil {
		return errors.Wrapf(err, "register %s", reg.Name)
	}

	var word uint64
	if c.IsSet(baseWordFlag.Name) {
		base, perr := strconv.ParseUint(c.String(baseWordFlag.Name), 0, 64)
		if perr != nil {
			return errors.Wrapf(perr, "invalid word %q", c.String(baseWordFlag.Name))
		}
		word, err = reg.Schema.Merge(base, values)
	} else {
		word, err = reg.Schema.Encode(values)
	}
	registerEncodeCount.WithLabelValues(reg.Name, resultLabel(err)).Inc()
	if err != nil {
		return errors.Wrapf(err, "register %s", reg.Name)
	}

	resp, err := decodeRegister(reg, word)
	if err != nil {
		return err
	}
	return printRegister(c, resp)
}

func describeAction(c *cli.Context) error {
	file, err := loadRegisters(c)
	if err != nil {
		return err
	}
	return describeRegisters(c.App.Writer, file, c.Args().Slice())
}

func serviceAction(c *cli.Context) error {
	connection := c.String(connectionFlag.Name)
	cfg := serviceConfig{
		Connection:     connection,
		Endpoint:       c.String(endpointFlag.Name),
		Username:       c.String(usernameFlag.Name),
		Password:       c.String(passwordFlag.Name),
		CertFile:       connectionFile(c.String(certFlag.Name), connection),
		KeyFile:        connectionFile(c.String(keyFlag.Name), connection),
		GenCert:        c.Bool(genCertFlag.Name),
		AppURI:         c.String(appURIFlag.Name),
		Timeout:        time.Duration(c.Int(timeoutFlag.Name)) * time.Second,
		Port:           servicePort(c),
		SecurityPolicy: c.String(securityPolicyFlag.Name),
		SecurityMode:   c.String(securityModeFlag.Name),
		AuthMethod:     c.String(authMethodFlag.Name),
	}

	var file *regfile.File
	if c.IsSet(registersFlag.Name) {
		var err error
		if file, err = loadRegisters(c); err != nil {
			return err
		}
		log.WithField("registers", len(file.Registers)).Info("Loaded register file")
	}

	auth := "anonymous"
	if strings.EqualFold(cfg.AuthMethod, "username") && cfg.Username != "" {
		auth = cfg.Username
	}
	log.WithFields(logrus.Fields{
		"service":  getServiceDescriptor(connection),
		"version":  buildVersion,
		"endpoint": cfg.Endpoint,
		"auth":     auth,
		"policy":   cfg.SecurityPolicy,
		"mode":     cfg.SecurityMode,
	}).Info("Starting")

	return startService(cfg, file)
}

var opcuaCommand = &cli.Command{
	Name:  "opcua",
	Usage: "talk to a running service",
	Subcommands: []*cli.Command{
		{
			Name:      "get",
			Usage:     "read one or more node values",
			ArgsUsage: "<node-id> [node-id ...]",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					return errors.New("missing node-id")
				}
				out, err := getNodeValues(c.Args().Slice(), servicePort(c), c.String(formatFlag.Name), c.String(measurementFlag.Name))
				if err != nil {
					return connectionError(err, c.String(connectionFlag.Name))
				}
				fmt.Fprintln(c.App.Writer, out)
				return nil
			},
		},
		{
			Name:      "set",
			Usage:     "write a node value",
			ArgsUsage: "<node-id> <value> <data-type>",
			Description: "Data types: " + strings.Join(writableTypes, ", ") + "\n" +
				"Node ID format: ns=X;i=NUMBER or ns=X;s=STRING (comma or semicolon separator)",
			Action: func(c *cli.Context) error {
				if c.NArg() != 3 {
					return errors.New("expected <node-id> <value> <data-type>")
				}
				args := c.Args().Slice()
				out, err := setNodeValue(args[0], args[1], args[2], servicePort(c), c.String(formatFlag.Name))
				if err != nil {
					return connectionError(err, c.String(connectionFlag.Name))
				}
				fmt.Fprintln(c.App.Writer, out)
				return nil
			},
		},
		{
			Name:      "browse",
			Usage:     "list variables below a node",
			ArgsUsage: "[node-id] [max-depth]",
			Action: func(c *cli.Context) error {
				nodeID := "i=84" // Objects folder
				if c.NArg() >= 1 {
					nodeID = c.Args().Get(0)
				}
				maxDepth := 3
				if c.NArg() >= 2 {
					depth, err := strconv.Atoi(c.Args().Get(1))
					if err != nil {
						return errors.Errorf("invalid depth value '%s'", c.Args().Get(1))
					}
					maxDepth = depth
				}
				if err := browseNode(c.App.Writer, nodeID, maxDepth, servicePort(c), c.String(formatFlag.Name)); err != nil {
					return connectionError(err, c.String(connectionFlag.Name))
				}
				return nil
			},
		},
		{
			Name:      "read-register",
			Usage:     "read a register word and decode its fields",
			ArgsUsage: "<register>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return errors.New("expected exactly one register name")
				}
				out, err := readRegister(c.Args().First(), servicePort(c), c.String(formatFlag.Name))
				if err != nil {
					return connectionError(err, c.String(connectionFlag.Name))
				}
				fmt.Fprintln(c.App.Writer, out)
				return nil
			},
		},
		{
			Name:      "write-register",
			Usage:     "encode field values and write the register word",
			ArgsUsage: "<register> field=value [field=value ...]",
			Flags:     []cli.Flag{mergeFlag},
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					return errors.New("expected a register name and at least one field=value")
				}
				args := c.Args().Slice()
				out, err := writeRegister(args[0], args[1:], c.Bool(mergeFlag.Name), servicePort(c), c.String(formatFlag.Name))
				if err != nil {
					return connectionError(err, c.String(connectionFlag.Name))
				}
				fmt.Fprintln(c.App.Writer, out)
				return nil
			},
		},
	},
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "plcreg",
		Usage:   "encode, decode, read and write PLC register words",
		Version: fmt.Sprintf("%s (%s, built %s)", buildVersion, buildCommit, buildTime),
		Flags:   appFlags,
		Before:  setupLogging,
		Commands: []*cli.Command{
			{
				Name:      "decode",
				Usage:     "decode a word with a register layout",
				ArgsUsage: "<word>",
				Flags:     []cli.Flag{registerFlag, bitsFlag, bitNamesFlag},
				Action:    decodeAction,
			},
			{
				Name:      "encode",
				Usage:     "encode field values into a word",
				ArgsUsage: "field=value [field=value ...]",
				Flags:     []cli.Flag{registerFlag, baseWordFlag},
				Action:    encodeAction,
			},
			{
				Name:      "describe",
				Usage:     "print register layouts",
				ArgsUsage: "[register ...]",
				Action:    describeAction,
			},
			opcuaCommand,
			{
				Name:   "service",
				Usage:  "connect to the OPC UA server and serve the HTTP API",
				Action: serviceAction,
			},
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
