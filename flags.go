package main

import (
	"github.com/urfave/cli/v2"
)

var (
	endpointFlag = &cli.StringFlag{
		Name:  "endpoint",
		Usage: "OPC UA endpoint URL",
		Value: "opc.tcp://192.168.123.252:4840",
	}
	usernameFlag = &cli.StringFlag{
		Name:  "username",
		Usage: "Username for UserName authentication",
	}
	passwordFlag = &cli.StringFlag{
		Name:    "password",
		Usage:   "Password for UserName authentication",
		EnvVars: []string{"PLCREG_PASSWORD"},
	}
	certFlag = &cli.StringFlag{
		Name:  "cert",
		Usage: "Client certificate file",
		Value: "cert.pem",
	}
	keyFlag = &cli.StringFlag{
		Name:  "key",
		Usage: "Client private key file",
		Value: "key.pem",
	}
	genCertFlag = &cli.BoolFlag{
		Name:  "gen-cert",
		Usage: "Generate a self-signed certificate when none exists",
		Value: true,
	}
	appURIFlag = &cli.StringFlag{
		Name:  "app-uri",
		Usage: "Application URI",
		Value: "urn:plccli:client",
	}
	timeoutFlag = &cli.IntFlag{
		Name:  "timeout",
		Usage: "All OPC UA timeouts in seconds",
		Value: 300,
	}
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Base port for service mode",
		Value: 8765,
	}
	connectionFlag = &cli.StringFlag{
		Name:  "connection",
		Usage: "Connection name for multiple OPC UA connections",
		Value: "default",
	}
	securityPolicyFlag = &cli.StringFlag{
		Name:  "security-policy",
		Usage: "Security policy: None, Basic128Rsa15, Basic256, Basic256Sha256",
		Value: "Basic256",
	}
	securityModeFlag = &cli.StringFlag{
		Name:  "security-mode",
		Usage: "Security mode: None, Sign, SignAndEncrypt",
		Value: "SignAndEncrypt",
	}
	authMethodFlag = &cli.StringFlag{
		Name:  "auth-method",
		Usage: "Authentication method: UserName, Anonymous",
		Value: "UserName",
	}
	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format: default, json, or influx",
		Value: "influx",
	}
	measurementFlag = &cli.StringFlag{
		Name:  "measurement",
		Usage: "InfluxDB measurement name for node values",
		Value: "opcua_node",
	}
	registersFlag = &cli.StringFlag{
		Name:    "registers",
		Usage:   "YAML file describing register layouts",
		EnvVars: []string{"PLCREG_REGISTERS"},
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Shorthand for --verbosity debug",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json.",
		Value: "text",
	}

	registerFlag = &cli.StringFlag{
		Name:    "register",
		Aliases: []string{"r"},
		Usage:   "Register name from the register file",
	}
	bitsFlag = &cli.IntFlag{
		Name:  "bits",
		Usage: "Decode the word bit by bit as a register of this width (8, 16, 32, 64)",
	}
	bitNamesFlag = &cli.StringFlag{
		Name:  "bit-names",
		Usage: "Comma separated names for --bits, one per bit starting at bit 0",
	}
	mergeFlag = &cli.BoolFlag{
		Name:  "merge",
		Usage: "Keep the current bits of fields that are not assigned",
	}
	baseWordFlag = &cli.StringFlag{
		Name:  "word",
		Usage: "Start from this word and only replace the assigned fields",
	}
)

var appFlags = []cli.Flag{
	endpointFlag,
	usernameFlag,
	passwordFlag,
	certFlag,
	keyFlag,
	genCertFlag,
	appURIFlag,
	timeoutFlag,
	portFlag,
	connectionFlag,
	securityPolicyFlag,
	securityModeFlag,
	authMethodFlag,
	formatFlag,
	measurementFlag,
	registersFlag,
	verbosityFlag,
	verboseFlag,
	logFormatFlag,
}
