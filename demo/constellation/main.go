package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"github.com/badcode-iip/anycaps"
	"github.com/badcode-iip/anycaps/anygeom"
	"github.com/badcode-iip/anycaps/anyobj"
	"github.com/badcode-iip/anycaps/anyset"
	"github.com/badcode-iip/anycaps/anysparse"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"gonum.org/v1/gonum/mat"
)

func main() {
	var batchSize int
	var numPoints int
	var keepProb float64
	var numCapsules int
	var numVotes int
	var featureDim int
	var numInducing int
	var dropout float64
	var noiseName string
	var transformName string
	var sparsityName string
	var activationName string
	var rotateParents bool
	var seed uint64
	var verbose bool

	flag.IntVar(&batchSize, "batch", 4, "number of constellations")
	flag.IntVar(&numPoints, "points", 11, "points per constellation")
	flag.Float64Var(&keepProb, "keep", 0.8, "probability that a point is present")
	flag.IntVar(&numCapsules, "capsules", 3, "number of object capsules")
	flag.IntVar(&numVotes, "votes", 4, "votes per capsule")
	flag.IntVar(&featureDim, "features", 16, "feature size per capsule")
	flag.IntVar(&numInducing, "inducing", 0, "inducing points (0 for SAB blocks)")
	flag.Float64Var(&dropout, "dropout", 0, "capsule dropout rate")
	flag.StringVar(&noiseName, "noise", "uniform", "presence noise (none, uniform, logistic)")
	flag.StringVar(&transformName, "transform", "similarity", "vote transform (similarity, affine)")
	flag.StringVar(&sparsityName, "sparsity", "l2", "sparsity loss (l2, entropy, kl)")
	flag.StringVar(&activationName, "activation", "relu",
		"hidden activation (relu, sigmoid, tanh, softplus)")
	flag.BoolVar(&rotateParents, "parent", false,
		"replace the object-viewer relations with fixed rotations")
	flag.Uint64Var(&seed, "seed", 1, "random seed")
	flag.BoolVar(&verbose, "verbose", false, "log per-component feature statistics")
	flag.Parse()

	creator := anyvec32.CurrentCreator()
	src := rand.NewPCG(seed, seed+1)

	noise, err := anyobj.ParseNoiseKind(noiseName)
	if err != nil {
		log.Fatal(err)
	}
	transform, err := anygeom.ParseKind(transformName)
	if err != nil {
		log.Fatal(err)
	}
	sparsity, err := anysparse.ByName(sparsityName, numCapsules)
	if err != nil {
		log.Fatal(err)
	}
	activation, err := anycaps.ParseActivation(activationName)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("Setting up...")
	encoder, err := anyset.NewSetTransformer(creator, anyset.Config{
		InputDim:    anygeom.NumParams,
		HiddenDim:   32,
		OutputDim:   featureDim,
		NumOutputs:  numCapsules,
		NumLayers:   2,
		NumHeads:    4,
		LayerNorm:   true,
		NumInducing: numInducing,
	})
	if err != nil {
		log.Fatal(err)
	}

	cfg := anyobj.DefaultConfig(numCapsules, featureDim, numVotes)
	cfg.DropoutRate = dropout
	cfg.Noise = noise
	cfg.NoiseScale = 4
	cfg.Transform = transform
	cfg.Activation = activation
	decoder, err := anyobj.NewObjectDecoder(creator, cfg)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Parameters: encoder=%d decoder=%d", len(encoder.Parameters()),
		len(decoder.Parameters()))

	points, presence := randomConstellations(creator, batchSize, numPoints, keepProb, src)

	log.Println("Decoding...")
	features := encoder.Encode(points, batchSize, presence)
	probe := &anycaps.Probe{
		Logf:         log.Printf,
		Name:         "features",
		PerComponent: verbose,
	}
	features = probe.Apply(features, batchSize)

	var parent *anyobj.Parent
	if rotateParents {
		parent = &anyobj.Parent{
			Transform: anydiff.NewConst(anygeom.Pack(creator,
				rotations(batchSize*numCapsules))),
		}
	}
	res, err := decoder.DecodeParent(features, points, presence, batchSize, parent, src)
	if err != nil {
		log.Fatal(err)
	}
	printStats(res, cfg, batchSize, numPoints)
	printWinningVote(res)

	within, between := sparsity.Loss(res.CapsPresenceProb, batchSize)
	log.Printf("%s sparsity: within=%f between=%f", sparsityName,
		anycaps.Floats(within.Output())[0], anycaps.Floats(between.Output())[0])
}

func randomConstellations(c anyvec.Creator, batch, numPoints int, keepProb float64,
	src rand.Source) (anydiff.Res, anyvec.Vector) {
	pointVec := c.MakeVector(batch * numPoints * anygeom.NumParams)
	anyvec.Rand(pointVec, anyvec.Uniform, nil)
	pointVec.Scale(c.MakeNumeric(2))
	pointVec.AddScalar(c.MakeNumeric(-1))
	presence := anycaps.BernoulliMask(c, batch*numPoints, keepProb, src)
	return anydiff.NewConst(pointVec), presence
}

// rotations creates n evenly spaced rotations about the
// origin.
func rotations(n int) []*mat.Dense {
	res := make([]*mat.Dense, n)
	for i := range res {
		theta := 2 * math.Pi * float64(i) / float64(n)
		sin, cos := math.Sincos(theta)
		res[i] = mat.NewDense(3, 3, []float64{
			cos, -sin, 0,
			sin, cos, 0,
			0, 0, 1,
		})
	}
	return res
}

func printStats(res *anyobj.DecodeResult, cfg anyobj.Config, batch, numPoints int) {
	log.Printf("log-likelihood: %f", anycaps.Floats(res.LogProb.Output())[0])
	log.Printf("deformation loss: %f", anycaps.Floats(res.DeformationLoss.Output())[0])

	capsPresence := anycaps.Floats(res.CapsPresenceProb.Output())
	for i := 0; i < batch; i++ {
		log.Printf("example %d: capsule presence %.3f", i,
			capsPresence[i*cfg.NumCapsules:(i+1)*cfg.NumCapsules])
	}

	counts := make([]int, cfg.NumCapsules)
	var unexplained int
	for i, capsule := range res.IsFromCapsule {
		if res.DummyWins[i] {
			unexplained++
			continue
		}
		counts[capsule]++
	}
	log.Printf("points won per capsule: %v (of %d)", counts, batch*numPoints)
	log.Printf("points explained by the dummy vote: %d", unexplained)

	var claimed int
	for _, p := range res.VotePresence {
		if p {
			claimed++
		}
	}
	log.Printf("claiming votes: %d of %d", claimed, len(res.VotePresence))
}

// printWinningVote logs the vote matrix that explains the
// first point not owned by the dummy vote, along with
// where it places the part's origin.
func printWinningVote(res *anyobj.DecodeResult) {
	point := -1
	for i, dummy := range res.DummyWins {
		if !dummy {
			point = i
			break
		}
	}
	if point < 0 {
		log.Println("every point is explained by the dummy vote")
		return
	}
	table := make([]int, anygeom.NumParams)
	for i := range table {
		table[i] = point*anygeom.NumParams + i
	}
	vote := anygeom.Untrim(anycaps.Gather(res.Winner, table))
	matrix := anygeom.Dense(vote.Output())[0]
	log.Printf("point %d is explained by vote %d:\n%v", point, res.WinnerIndex[point],
		mat.Formatted(matrix, mat.Prefix(""), mat.Squeeze()))

	c := vote.Output().Creator()
	origin := anygeom.Apply(vote, anydiff.NewConst(c.MakeVector(2)))
	log.Printf("part origin: %s", formatPoint(anycaps.Floats(origin.Output())))
}

func formatPoint(p []float64) string {
	return fmt.Sprintf("(%.3f, %.3f)", p[0], p[1])
}
