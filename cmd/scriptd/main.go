// Command scriptd is a minimal demo process wiring the scripting subsystem
// together: cache, engine registry, the built-in js back-end, and the
// command surface of spec.md §6. It is not a full store — persistence, the
// wire protocol, and access control are out of scope (spec.md §1) — but it
// is enough to exercise EVAL/EVALSHA/SCRIPT * end to end and to serve as the
// re-exec target for the debugger's forked-session substitute (spec.md §9).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/R3E-Network/scriptlayer/internal/scripting/cache"
	"github.com/R3E-Network/scriptlayer/internal/scripting/command"
	"github.com/R3E-Network/scriptlayer/internal/scripting/debugger"
	"github.com/R3E-Network/scriptlayer/internal/scripting/engine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/engine/jsengine"
	"github.com/R3E-Network/scriptlayer/internal/scripting/flags"
	"github.com/R3E-Network/scriptlayer/internal/scripting/ports"
	"github.com/R3E-Network/scriptlayer/pkg/config"
	"github.com/R3E-Network/scriptlayer/pkg/logger"
)

// identityMapper is the demo's stand-in for the host store's flag-mapping
// table (spec.md §4.1's "fixed mapping supplied by the surrounding system");
// a real store would translate script flags into its own ACL/cluster flags.
type identityMapper struct{}

func (identityMapper) Map(s flags.Set) flags.CommandFlags {
	out := make(flags.CommandFlags)
	out["script-flags"] = s != 0
	return out
}

func main() {
	childFlag := flag.Bool("debug-child", false, "internal: resume a re-exec'd forked debugger session")
	flag.Parse()

	if *childFlag {
		runDebugChild()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logger.New("scriptd", cfg.Logging)

	reg := engine.NewRegistry(log)
	if err := reg.Register(jsengine.Name, jsengine.New(), 0); err != nil {
		log.Fatalf("register js engine: %v", err)
	}

	metrics := cache.NewMetrics(nil)
	c := cache.New(cfg.Cache, cfg.Engine, reg, identityMapper{}, nil, metrics, log)

	dbg := debugger.New(cfg.Debugger, debugger.DefaultReexec(cfg.Debugger.ChildFlag), log)
	svc := command.NewService(c, dbg, identityMapper{}, nil, log)

	log.Info("scriptd demo process ready")
	runREPL(context.Background(), svc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	dbg.KillAll()
	log.Info("scriptd shutting down")
}

// runREPL drives a tiny line-oriented stand-in for the wire protocol this
// subsystem otherwise consumes as an external collaborator (spec.md §1):
// just enough to demo EVAL/EVALSHA/SCRIPT * from stdin.
func runREPL(ctx context.Context, svc *command.Service) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		handleLine(ctx, svc, line)
	}
}

func handleLine(ctx context.Context, svc *command.Service, line string) {
	fields := strings.Fields(line)
	name := strings.ToUpper(fields[0])
	args := fields[1:]

	switch name {
	case "EVAL", "EVAL_RO":
		if len(args) < 1 {
			fmt.Println("usage: EVAL <body> [numkeys key... arg...]")
			return
		}
		req := ports.Request{ClientID: "repl", Body: []byte(args[0])}
		var res command.Result
		var err error
		if name == "EVAL_RO" {
			res, err = svc.EvalRO(ctx, req, nil)
		} else {
			res, err = svc.Eval(ctx, req, nil)
		}
		printResult(res, err)
	case "EVALSHA", "EVALSHA_RO":
		if len(args) < 1 {
			fmt.Println("usage: EVALSHA <digest> [numkeys key... arg...]")
			return
		}
		req := ports.Request{ClientID: "repl", Digest: args[0]}
		var res command.Result
		var err error
		if name == "EVALSHA_RO" {
			res, err = svc.EvalShaRO(ctx, req, nil)
		} else {
			res, err = svc.EvalSha(ctx, req, nil)
		}
		printResult(res, err)
	case "SCRIPT":
		handleScript(ctx, svc, args)
	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
}

func handleScript(ctx context.Context, svc *command.Service, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: SCRIPT LOAD|EXISTS|FLUSH|SHOW|DEBUG ...")
		return
	}
	sub := strings.ToUpper(args[0])
	rest := args[1:]

	switch sub {
	case "LOAD":
		if len(rest) < 1 {
			fmt.Println("usage: SCRIPT LOAD <body>")
			return
		}
		d, err := svc.ScriptLoad(ctx, []byte(rest[0]))
		if err != nil {
			fmt.Println("(error)", err)
			return
		}
		fmt.Println(d)
	case "EXISTS":
		results := svc.ScriptExists(rest)
		parts := make([]string, len(results))
		for i, ok := range results {
			parts[i] = strconv.Itoa(boolToInt(ok))
		}
		fmt.Println(strings.Join(parts, " "))
	case "FLUSH":
		mode := ""
		if len(rest) > 0 {
			mode = rest[0]
		}
		if err := svc.ScriptFlush(ctx, mode); err != nil {
			fmt.Println("(error)", err)
			return
		}
		fmt.Println("OK")
	case "SHOW":
		if len(rest) < 1 {
			fmt.Println("usage: SCRIPT SHOW <digest>")
			return
		}
		body, err := svc.ScriptShow(rest[0])
		if err != nil {
			fmt.Println("(error)", err)
			return
		}
		fmt.Println(string(body))
	case "DEBUG":
		if len(rest) < 1 {
			fmt.Println("usage: SCRIPT DEBUG YES|SYNC|NO")
			return
		}
		if err := svc.ScriptDebug("repl", rest[0]); err != nil {
			fmt.Println("(error)", err)
			return
		}
		fmt.Println("OK")
	default:
		fmt.Printf("unknown SCRIPT subcommand %q\n", args[0])
	}
}

func printResult(res command.Result, err error) {
	if err != nil {
		fmt.Println("(error)", err)
		return
	}
	if res.Aborted {
		fmt.Println("(forked debugger session started)")
		return
	}
	fmt.Printf("%v\n", res.Reply)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// runDebugChild is the re-exec'd child's entrypoint, the counterpart to
// debugger.DefaultReexec (spec.md §9): it reconstructs the inherited
// connection from fd 3 and closes it on return. It does not start a debugger
// session or run the script in the child.
func runDebugChild() {
	conn, err := debugger.ResumeChildFromFD(3)
	if err != nil {
		log.Fatalf("resume debug child: %v", err)
	}
	defer conn.Close()
	// A real store would resume the in-flight call here using the session
	// state handed over alongside the inherited fd; this demo process has
	// nothing further to execute once the connection is reconstructed.
}
