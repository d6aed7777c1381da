// softbodytool builds particle softbodies from OBJ meshes, binds render
// meshes to them and runs them through the reference solver.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/softbody/internal/config"
	"github.com/Faultbox/softbody/internal/job"
	"github.com/Faultbox/softbody/internal/logger"
	"github.com/Faultbox/softbody/internal/skin"
	"github.com/Faultbox/softbody/internal/softbody"
	"github.com/Faultbox/softbody/internal/solver"
	"github.com/Faultbox/softbody/pkg/formats"
	"github.com/Faultbox/softbody/pkg/math"
)

func main() {
	// Global flags come before the command.
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if path, err := cfg.SaveRequested(); err != nil {
		logger.Fatal("saving config", zap.Error(err))
	} else if path != "" {
		logger.Info("config saved", zap.String("path", path))
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command := args[0]
	args = args[1:]

	switch command {
	case "build":
		err = cmdBuild(ctx, cfg, args)
	case "info":
		err = cmdInfo(args)
	case "bind":
		err = cmdBind(ctx, cfg, args)
	case "optimize", "opt":
		err = cmdOptimize(ctx, cfg, args)
	case "simulate", "sim":
		err = cmdSimulate(ctx, cfg, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`softbodytool - particle softbody generation utility

Usage:
  softbodytool [global flags] <command> [options]

Global flags:
  -config <file>          Config file (default ./softbody.yaml)
  -debug                  Enable debug logging
  -log-file <file>        Write logs to a rotating file
  -radius <r>             Particle radius
  -overlap <o>            Particle overlap fraction [0, 0.75]
  -smoothing <s>          Shape smoothing [0, 1]
  -cluster-radius <r>     Soft cluster radius
  -save-config <file>     Write the effective config ("default" for the user config dir)

Commands:
  build <mesh.obj> <out.sbpf>                  Generate particles and clusters
  info <body.sbpf>                             Show blueprint information
  bind <body.sbpf> <target.obj> <out.sbpf>     Bind a render mesh to the clusters
  optimize <body.sbpf> <out.sbpf>              Deactivate redundant pinned particles
  simulate <body.sbpf>                         Step the body in the reference solver

Examples:
  softbodytool -radius 0.05 build blob.obj blob.sbpf
  softbodytool optimize -pin-below 0.1 blob.sbpf blob-opt.sbpf
  softbodytool simulate -steps 50 -velocity 0,1,0 -target blob.obj blob.sbpf`)
}

// settingsFromConfig maps the generation config onto softbody settings.
func settingsFromConfig(cfg *config.Config) softbody.Settings {
	g := cfg.Generation
	return softbody.Settings{
		ParticleRadius:         g.ParticleRadius,
		ParticleOverlap:        g.ParticleOverlap,
		ShapeSmoothing:         g.ShapeSmoothing,
		AnisotropyNeighborhood: g.AnisotropyNeighborhood,
		MaxAnisotropy:          g.MaxAnisotropy,
		SoftClusterRadius:      g.SoftClusterRadius,
		OneSided:               g.OneSided,
		SelfCollisions:         g.SelfCollisions,
		ChunkSize:              cfg.Jobs.ChunkSize,
	}
}

func vec3s(src [][3]float32) []math.Vec3 {
	out := make([]math.Vec3, len(src))
	for i, v := range src {
		out[i] = math.Vec3FromArray(v)
	}
	return out
}

// runJob drives j, printing progress on one terminal line.
func runJob(ctx context.Context, j job.Job) error {
	last := ""
	err := job.Run(ctx, j, func(p job.Progress) {
		if s := p.String(); s != last {
			fmt.Printf("\r%-60s", s)
			last = s
		}
	})
	fmt.Println()
	return err
}

// loadBody reads a blueprint into a new softbody.
func loadBody(cfg *config.Config, path string) (*softbody.Softbody, *formats.Blueprint, error) {
	bp, err := formats.ParseBlueprintFile(path)
	if err != nil {
		return nil, nil, err
	}
	body := softbody.New(nil, settingsFromConfig(cfg))
	if err := body.LoadBlueprint(bp); err != nil {
		return nil, nil, err
	}
	return body, bp, nil
}

// loadTarget reads an OBJ render mesh.
func loadTarget(path string) (*skin.Target, error) {
	obj, err := formats.ParseOBJFile(path)
	if err != nil {
		return nil, err
	}
	mesh := &skin.Mesh{Vertices: vec3s(obj.Vertices), Normals: vec3s(obj.Normals)}
	mesh.RecalculateBounds()
	return skin.NewTarget(mesh), nil
}

func cmdBuild(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	scale := fs.Float64("scale", 1, "Uniform actor scale baked into particles")
	fs.Parse(args)

	if fs.NArg() < 2 {
		return fmt.Errorf("usage: softbodytool build <mesh.obj> <out.sbpf>")
	}

	obj, err := formats.ParseOBJFile(fs.Arg(0))
	if err != nil {
		return err
	}

	body := softbody.New(&softbody.Mesh{
		Vertices: vec3s(obj.Vertices),
		Normals:  vec3s(obj.Normals),
	}, settingsFromConfig(cfg))
	s := float32(*scale)
	body.Transform.Scale = math.Vec3{X: s, Y: s, Z: s}

	start := time.Now()
	j, err := body.Initialize()
	if err != nil {
		return err
	}
	if err := runJob(ctx, j); err != nil {
		return err
	}

	bp, err := body.Blueprint()
	if err != nil {
		return err
	}
	if err := formats.WriteBlueprintFile(fs.Arg(1), bp); err != nil {
		return err
	}

	fmt.Printf("Vertices:  %d\n", len(obj.Vertices))
	fmt.Printf("Particles: %d\n", bp.ParticleCount())
	fmt.Printf("Clusters:  %d\n", len(bp.Clusters))
	fmt.Printf("Time:      %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func cmdInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: softbodytool info <body.sbpf>")
	}

	bp, err := formats.ParseBlueprintFile(args[0])
	if err != nil {
		return err
	}

	active, pinned := 0, 0
	for i := range bp.Active {
		if bp.Active[i] {
			active++
		}
		if bp.InvMasses[i] == 0 {
			pinned++
		}
	}

	minSize, maxSize, total := 0, 0, 0
	for c, members := range bp.Clusters {
		n := len(members)
		if c == 0 || n < minSize {
			minSize = n
		}
		maxSize = max(maxSize, n)
		total += n
	}

	fmt.Printf("Blueprint: %s\n", args[0])
	fmt.Printf("Version:   %s\n", bp.Version)
	fmt.Printf("Particles: %d (%d active, %d pinned)\n", bp.ParticleCount(), active, pinned)
	fmt.Printf("Clusters:  %d\n", len(bp.Clusters))
	if len(bp.Clusters) > 0 {
		fmt.Printf("  size     min %d, max %d, avg %.1f\n",
			minSize, maxSize, float64(total)/float64(len(bp.Clusters)))
	}
	fmt.Printf("Bones:     %d\n", len(bp.BindPoses))
	fmt.Printf("Weights:   %d vertices\n", len(bp.Weights))
	return nil
}

func cmdBind(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("bind", flag.ExitOnError)
	falloff := fs.Float64("falloff", float64(cfg.Skinning.Falloff), "Weight falloff exponent")
	maxDistance := fs.Float64("max-distance", float64(cfg.Skinning.MaxDistance), "Maximum cluster influence distance")
	fs.Parse(args)

	if fs.NArg() < 3 {
		return fmt.Errorf("usage: softbodytool bind <body.sbpf> <target.obj> <out.sbpf>")
	}

	body, _, err := loadBody(cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	target, err := loadTarget(fs.Arg(1))
	if err != nil {
		return err
	}

	skinner := skin.NewSkinner(target)
	skinner.Falloff = float32(*falloff)
	skinner.MaxDistance = float32(*maxDistance)
	skinner.SetSource(body)

	j, err := skinner.BindSkin()
	if err != nil {
		return err
	}
	if err := runJob(ctx, j); err != nil {
		return err
	}

	bp, err := body.Blueprint()
	if err != nil {
		return err
	}
	skinner.FillBlueprint(bp)
	if err := formats.WriteBlueprintFile(fs.Arg(2), bp); err != nil {
		return err
	}

	unbound := 0
	for _, w := range skinner.Weights() {
		if w.Influences() == 0 {
			unbound++
		}
	}
	fmt.Printf("Bones:    %d\n", len(skinner.BindPoses()))
	fmt.Printf("Vertices: %d (%d without influence)\n", len(target.Mesh.Vertices), unbound)
	size := target.Mesh.Bounds.Size()
	fmt.Printf("Bounds:   %.3f x %.3f x %.3f\n", size.X, size.Y, size.Z)
	return nil
}

func cmdOptimize(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	pinBelow := fs.String("pin-below", "", "Pin particles whose Y is below this value")
	restore := fs.Bool("restore", false, "Reactivate everything instead of optimizing")
	fs.Parse(args)

	if fs.NArg() < 2 {
		return fmt.Errorf("usage: softbodytool optimize <body.sbpf> <out.sbpf>")
	}

	body, source, err := loadBody(cfg, fs.Arg(0))
	if err != nil {
		return err
	}

	if *pinBelow != "" {
		y, err := strconv.ParseFloat(*pinBelow, 32)
		if err != nil {
			return fmt.Errorf("parsing -pin-below: %w", err)
		}
		for i, p := range body.Particles().Positions {
			if p.Y < float32(y) {
				if err := body.PinParticle(i); err != nil {
					return err
				}
			}
		}
	}

	var j job.Job
	if *restore {
		j, err = body.Unoptimize()
	} else {
		j, err = body.Optimize()
	}
	if err != nil {
		return err
	}
	if err := runJob(ctx, j); err != nil {
		return err
	}

	bp, err := body.Blueprint()
	if err != nil {
		return err
	}
	bp.BindPoses, bp.Weights = source.BindPoses, source.Weights
	if err := formats.WriteBlueprintFile(fs.Arg(1), bp); err != nil {
		return err
	}

	fmt.Printf("Active particles: %d of %d\n", body.Particles().ActiveCount(), body.Particles().Len())
	fmt.Printf("Active clusters:  %d of %d\n",
		len(body.Constraints().ShapeMatching().ActiveConstraints()),
		body.Constraints().ShapeMatching().ConstraintCount())
	return nil
}

func parseVec3(s string) (math.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return math.Vec3{}, fmt.Errorf("expected x,y,z, got %q", s)
	}
	var v [3]float32
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return math.Vec3{}, fmt.Errorf("component %d of %q: %w", i, s, err)
		}
		v[i] = float32(f)
	}
	return math.Vec3FromArray(v), nil
}

func cmdSimulate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	steps := fs.Int("steps", 50, "Number of solver steps")
	velocity := fs.String("velocity", "0,0,0", "Initial velocity x,y,z")
	targetPath := fs.String("target", "", "Render mesh to bind and deform")
	every := fs.Int("every", 10, "Print state every N steps")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: softbodytool simulate <body.sbpf>")
	}

	v, err := parseVec3(*velocity)
	if err != nil {
		return fmt.Errorf("parsing -velocity: %w", err)
	}

	body, _, err := loadBody(cfg, fs.Arg(0))
	if err != nil {
		return err
	}

	var skinner *skin.Skinner
	if *targetPath != "" {
		target, err := loadTarget(*targetPath)
		if err != nil {
			return err
		}
		skinner = skin.NewSkinner(target)
		skinner.Falloff = cfg.Skinning.Falloff
		skinner.MaxDistance = cfg.Skinning.MaxDistance
		skinner.SetSource(body)
		j, err := skinner.BindSkin()
		if err != nil {
			return err
		}
		if err := runJob(ctx, j); err != nil {
			return err
		}
	}

	sol := solver.New(cfg.Solver.Capacity)
	if err := body.AddToSolver(sol); err != nil {
		return err
	}
	defer body.RemoveFromSolver()

	for i := range body.Particles().Velocities {
		body.Particles().Velocities[i] = v
	}
	body.PushDataToSolver(softbody.DataVelocities)

	dt := float32(cfg.Solver.TimeStep.Seconds())
	for step := 1; step <= *steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sol.Step(dt)

		if *every > 0 && (step%*every == 0 || step == *steps) {
			p := body.Transform.Position
			fmt.Printf("step %4d  t=%6.3fs  actor (%.3f, %.3f, %.3f)", step, float32(step)*dt, p.X, p.Y, p.Z)
			if skinner != nil {
				deformed := skinner.Target.Mesh.Clone()
				deformed.Vertices = skinner.Deform()
				deformed.RecalculateBounds()
				c, size := deformed.Bounds.Center(), deformed.Bounds.Size()
				fmt.Printf("  mesh centre (%.3f, %.3f, %.3f) size (%.3f, %.3f, %.3f)",
					c.X, c.Y, c.Z, size.X, size.Y, size.Z)
			}
			fmt.Println()
		}
	}
	return nil
}
