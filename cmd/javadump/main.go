// Command javadump inspects Java class files: constant pool, members,
// per-method control-flow graphs and trace results, with an optional
// reassembly round trip.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/jawatools/jawa/asm"
	"github.com/jawatools/jawa/classfile"
	jerrors "github.com/jawatools/jawa/errors"
	"github.com/jawatools/jawa/frame"
	"github.com/jawatools/jawa/graph"
	"github.com/jawatools/jawa/trace"
)

func main() {
	var (
		classFile   = flag.String("class", "", "Path to class file")
		methodName  = flag.String("method", "", "Only dump methods with this name")
		showPool    = flag.Bool("pool", false, "Dump the constant pool")
		showCFG     = flag.Bool("cfg", false, "Dump per-method control-flow graphs")
		verify      = flag.Bool("verify", false, "Reassemble every method and report diagnostics")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *classFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: javadump -class <file.class> [-pool] [-cfg] [-verify] [-method name]")
		fmt.Fprintln(os.Stderr, "       javadump -class <file.class> -i  (interactive mode)")
		os.Exit(1)
	}

	if *debug {
		logger, err := zap.NewDevelopment()
		if err == nil {
			trace.SetLogger(logger)
			asm.SetLogger(logger)
			defer logger.Sync()
		}
	}

	if *interactive {
		if err := runInteractive(*classFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*classFile, *methodName, *showPool, *showCFG, *verify); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path, methodName string, showPool, showCFG, verify bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var v jerrors.Verifier
	cf, err := classfile.Read(data, &v)
	if err != nil {
		return fmt.Errorf("read class: %w", err)
	}

	fmt.Printf("class %s (version %s)\n", cf.This.Name, cf.Version)
	if cf.Super.Name != "" {
		fmt.Printf("  extends %s\n", cf.Super.Name)
	}
	for _, iface := range cf.Interfaces {
		fmt.Printf("  implements %s\n", iface.Name)
	}
	fmt.Printf("  %d field(s), %d method(s), %d pool constant(s)\n",
		len(cf.Fields), len(cf.Methods), cf.Pool.Count()-1)

	if showPool {
		fmt.Println("\nconstant pool:")
		cf.Pool.Constants(func(index uint16, c classfile.Constant) {
			fmt.Printf("  %5d: %s\n", index, c)
		})
	}

	for _, method := range cf.Methods {
		if methodName != "" && method.Name != methodName {
			continue
		}
		if err := dumpMethod(cf, method, showCFG, verify, &v); err != nil {
			return err
		}
	}

	if v.Len() > 0 {
		fmt.Printf("\n%d diagnostic(s):\n", v.Len())
		for _, e := range v.Errors() {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

func dumpMethod(cf *classfile.ClassFile, method *classfile.Member, showCFG, verify bool, v *jerrors.Verifier) error {
	fmt.Printf("\n%s%s:\n", method.Name, method.Descriptor)
	code := method.Code()
	if code == nil {
		fmt.Println("  (no code)")
		return nil
	}

	g, err := graph.Disassemble(code, cf.Pool, v)
	if err != nil {
		return fmt.Errorf("disassemble %s: %w", method.Name, err)
	}

	info := frame.Method{
		Class:      string(cf.This.Name),
		Name:       method.Name,
		Descriptor: method.Descriptor,
		Static:     method.Static(),
	}
	tr, err := trace.Run(g, info, v, trace.Options{})
	if err != nil {
		return fmt.Errorf("trace %s: %w", method.Name, err)
	}

	fmt.Printf("  declared max_stack=%d max_locals=%d, traced max_stack=%d max_locals=%d\n",
		code.MaxStack, code.MaxLocals, tr.MaxStack, tr.MaxLocals)
	if len(tr.BackEdges) > 0 {
		fmt.Printf("  %d back edge(s)\n", len(tr.BackEdges))
	}
	if len(tr.Subroutines) > 0 {
		fmt.Printf("  %d subroutine(s)\n", len(tr.Subroutines))
	}

	if showCFG {
		fmt.Print(formatCFG(g, tr))
	}

	if verify {
		if _, err := asm.Assemble(g, tr, cf.Version, cf.Pool, v, asm.Options{BestEffort: true}); err != nil {
			return fmt.Errorf("assemble %s: %w", method.Name, err)
		}
	}
	return nil
}

func formatCFG(g *graph.Graph, tr *trace.Trace) string {
	var b strings.Builder
	for _, block := range g.Blocks() {
		reached := ""
		if !tr.Reached(block.Label) {
			reached = " (dead)"
		}
		fmt.Fprintf(&b, "  %s%s:\n", block.SourceName(), reached)
		for _, in := range block.Insns {
			fmt.Fprintf(&b, "    %s\n", in)
		}
		for _, e := range g.OutEdges(block.Label) {
			fmt.Fprintf(&b, "    -> %s\n", e)
		}
	}
	return b.String()
}
