package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"gitlab.com/stephen-fox/vtop/conv"
	"gitlab.com/stephen-fox/vtop/process"
	"gitlab.com/stephen-fox/vtop/profile"
	"gitlab.com/stephen-fox/vtop/stack"
)

const (
	imageArg        = "f"
	pagefileArg     = "pagefile"
	profileArg      = "profile"
	dtbArg          = "dtb"
	specArg         = "spec"
	processesArg    = "processes"
	addressSpaceArg = "as"
	writableArg     = "w"
	verboseArg      = "v"
	asmSyntaxArg    = "s"
	outputFormatArg = "o"
	helpArg         = "h"

	layersCommand = "layers"
	vtopCommand   = "vtop"
	rangesCommand = "ranges"
	dumpCommand   = "dump"
	readCommand   = "read"
	writeCommand  = "write"
	disCommand    = "dis"

	appName = "vtop"
	usage   = appName + `
DESCRIPTION
  Translates virtual addresses in a memory image to physical addresses
  by walking the image's page tables in software.

  The format of the image is autodetected by stacking layers (e.g.,
  a LiME file) until no layer accepts the stack. The virtual address
  space is selected by the profile, which describes the architecture
  and the bit layout of the operating system's page table entries.

USAGE
  ` + appName + ` -` + imageArg + ` IMAGE [options] COMMAND [ARGS]

COMMANDS
  ` + layersCommand + `
    Autodetect the image's physical layers and explain the decision
  ` + vtopCommand + ` ADDRESS
    Show each page table entry used to translate ADDRESS
  ` + rangesCommand + ` [START]
    List the mapped ranges of the address space
  ` + dumpCommand + ` OUTPUT-FILE [START]
    Copy the mapped ranges to a sparse file, at their offset from START
  ` + readCommand + ` ADDRESS LENGTH
    Hex dump memory
  ` + writeCommand + ` ADDRESS < HEX-DATA
    Write hex-encoded data read from stdin to memory (requires -` + writableArg + `)
  ` + disCommand + ` ADDRESS [LENGTH]
    Disassemble memory

ADDRESS SPACES
  The -` + addressSpaceArg + ` option selects the address space:
    K, Kernel       the kernel (default when a profile is specified)
    P, Physical     the physical layers (default otherwise)
    LAYER@DTB       a translator at a page table root, e.g. amd64@0x187000
    pid@PID         a process from the -` + processesArg + ` table

EXAMPLES
  Explain the stack chosen for a LiME image:
    $ ` + appName + ` -` + imageArg + ` mem.lime ` + layersCommand + `

  Translate a kernel address:
    $ ` + appName + ` -` + imageArg + ` mem.raw -` + profileArg + ` win7sp1x64 -` + dtbArg + ` 0x187000 ` + vtopCommand + ` 0xfffff80002a3c000

  Disassemble code in a process:
    $ ` + appName + ` -` + imageArg + ` mem.raw -` + profileArg + ` win7sp1x64 -` + processesArg + ` pslist.yaml \
        -` + addressSpaceArg + ` pid@2412 ` + disCommand + ` 0x7ff60001000 32

OPTIONS
`
)

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	help := flag.Bool(
		helpArg,
		false,
		"Display this information")

	imagePath := flag.String(
		imageArg,
		"",
		"The memory image file")

	pagefilePath := flag.String(
		pagefileArg,
		"",
		"Optional pagefile acquired alongside the image")

	profileName := flag.String(
		profileArg,
		"",
		fmt.Sprintf("The profile name (%v) or profile file path", profile.BuiltinNames()))

	dtbStr := flag.String(
		dtbArg,
		"",
		"The kernel's page table root (default: reported by the image, if possible)")

	spec := flag.String(
		specArg,
		"",
		"Colon-separated physical layers, bottom first (default: autodetect)")

	processesPath := flag.String(
		processesArg,
		"",
		"YAML process table used to resolve pid@PID address spaces and VADs")

	asName := flag.String(
		addressSpaceArg,
		"",
		"The address space to operate on")

	writable := flag.Bool(
		writableArg,
		false,
		"Open the image for writing")

	verbose := flag.Bool(
		verboseArg,
		false,
		"Log layer construction and translation details to stderr")

	syntax := flag.String(
		asmSyntaxArg,
		intelSyntax,
		"The assembly syntax for "+disCommand+" ('intel', 'att', 'go')")

	outputFormat := flag.String(
		outputFormatArg,
		prettyFormat,
		"The output format for "+disCommand+" ('pretty', 'json', 'go')")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	if flag.NArg() == 0 {
		return errors.New("please specify a command (use -" + helpArg + " for usage)")
	}

	if *imagePath == "" {
		return errors.New("please specify a memory image using -" + imageArg)
	}

	options := stack.Options{
		Filename:     *imagePath,
		PagefilePath: *pagefilePath,
		Writable:     *writable,
	}

	if *verbose {
		options.OptLogger = log.New(os.Stderr, "["+appName+"] ", 0)
	}

	if *profileName != "" {
		p, err := profile.Find(*profileName)
		if err != nil {
			return fmt.Errorf("failed to load profile - %w", err)
		}

		options.Profile = p
	}

	if *dtbStr != "" {
		dtb, err := conv.ParseAddress(*dtbStr)
		if err != nil {
			return fmt.Errorf("failed to parse dtb - %w", err)
		}

		options.OptDTB = &dtb
	}

	var finder process.Finder
	if *processesPath != "" {
		table, err := process.LoadFile(*processesPath)
		if err != nil {
			return err
		}

		finder = table
		options.OptVADProvider = table
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	if command == layersCommand {
		return layers(options, *spec)
	}

	session, err := stack.NewSession(stack.SessionConfig{
		Options:          options,
		OptSpec:          *spec,
		OptProcessFinder: finder,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if *asName == "" {
		*asName = "P"
		if options.Profile != nil {
			*asName = "K"
		}
	}

	as, err := session.ResolveAddressSpace(*asName)
	if err != nil {
		return err
	}

	switch command {
	case vtopCommand:
		return vtop(as, args)
	case rangesCommand:
		return ranges(as, args)
	case dumpCommand:
		return dump(as, args)
	case readCommand:
		return read(as, args)
	case writeCommand:
		return write(as, args)
	case disCommand:
		return dis(as, args, *syntax, *outputFormat)
	default:
		return fmt.Errorf("unknown command: %q", command)
	}
}
