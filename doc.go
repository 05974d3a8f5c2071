// Package jawa provides reading, analysis, transformation and re-emission
// of Java class files.
//
// The heart of the library is a control-flow graph over JVM instructions,
// an abstract-interpretation engine that derives per-edge stack and locals
// constraints, and an assembler that lowers the graph back to a linear
// bytecode stream with valid jump offsets, exception tables and stack-map
// frames.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	jawa/               Root package documentation
//	├── classfile/      Class file container: constant pool, members, attributes
//	├── types/          Verification type lattice: merge rules, categories
//	├── frame/          Abstract-interpretation state: entries, stack, locals
//	├── insns/          Instruction model: decoding, encoding, frame effects
//	├── graph/          Control-flow graph: blocks, typed edges, disassembler
//	├── trace/          Abstract interpretation over the graph, liveness
//	├── asm/            Assembler: layout, jump fixup, stack-map frames
//	└── errors/         Structured error types and the verifier collector
//
// # Quick Start
//
// Disassemble, analyze and reassemble a method:
//
//	v := &errors.Verifier{}
//	cf, err := classfile.Read(data, v)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	code := cf.Methods[0].Code()
//	g, err := graph.Disassemble(code, cf.Pool, v)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	t, err := trace.Run(g, info, v, trace.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// ... edit the graph ...
//
//	newCode, err := asm.Assemble(g, t, cf.Version, cf.Pool, v, asm.Options{})
package jawa
