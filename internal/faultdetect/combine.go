package faultdetect

import "math"

// emaAlpha is the fixed EMA smoothing factor applied to CNN and Multiclass
// logits across cycles (§4.H step 8), reset on configuration change.
const emaAlpha = 0.3

// headVote is one head's post-threshold decision for a cycle.
type headVote struct {
	score     HeadScore
	threshold float64
	fault     bool
	leaning   bool // FaultLike > 50% of threshold
	above     bool // FaultLike >= threshold (same as fault, named for boost-corroboration readability)
}

func vote(score HeadScore, threshold float64) headVote {
	return headVote{
		score:     score,
		threshold: threshold,
		fault:     score.Ran && score.FaultLike >= threshold,
		leaning:   score.Ran && score.FaultLike > 0.5*threshold,
		above:     score.Ran && score.FaultLike >= threshold,
	}
}

// resolveCNNThreshold applies §4.H's dynamic-CNN-threshold rule: when
// ProtoNet's fault-likelihood >= proto_dynamic_trigger and the strategy is
// not one of and/classify_and/all, the CNN threshold is lowered for this
// cycle.
func resolveCNNThreshold(strategy Strategy, protoFaultLike float64, cfg Config) float64 {
	if protoFaultLike >= cfg.ProtoDynamicTrigger {
		switch strategy {
		case StrategyAND, StrategyClassifyAnd, StrategyAll:
		default:
			return cfg.CNNDynamicThreshold
		}
	}
	return cfg.CNNThreshold
}

// combine implements §4.H's strategy table over already-thresholded head
// votes. multiRan reports whether the multiclass head actually executed
// this cycle (relevant for "verify", which runs it conditionally).
func combine(strategy Strategy, cnnV, protoV, multiV headVote, multiRan bool) Verdict {
	switch strategy {
	case StrategyOR:
		if cnnV.fault || protoV.fault || (multiV.score.Ran && multiV.fault) {
			return VerdictFault
		}
		return VerdictOK
	case StrategyAND:
		if cnnV.fault && protoV.fault {
			return VerdictFault
		}
		return VerdictOK
	case StrategyAll:
		allFault := cnnV.fault && protoV.fault
		if multiV.score.Ran {
			allFault = allFault && multiV.fault
		}
		return boolVerdict(allFault)
	case StrategyMajority:
		n, nFault := 0, 0
		for _, v := range []headVote{cnnV, protoV, multiV} {
			if !v.score.Ran {
				continue
			}
			n++
			if v.fault {
				nFault++
			}
		}
		return boolVerdict(2*nFault > n)
	case StrategyVerify:
		if !multiRan {
			return VerdictOK
		}
		return boolVerdict(multiV.fault)
	case StrategyClassify:
		return boolVerdict(cnnV.fault || protoV.fault)
	case StrategyClassifyAnd:
		return boolVerdict(cnnV.fault && protoV.fault)
	case StrategyCNNOnly:
		return boolVerdict(cnnV.fault)
	case StrategyProtoNet:
		return boolVerdict(protoV.fault)
	case StrategyMulticlass:
		return boolVerdict(multiV.fault)
	default:
		return boolVerdict(cnnV.fault || protoV.fault || multiV.fault)
	}
}

func boolVerdict(fault bool) Verdict {
	if fault {
		return VerdictFault
	}
	return VerdictOK
}

// activeHeadsFor reports which heads' HeadScore contribute to the
// confidence average for strategy (the heads a reader would call "active"
// for this cycle).
func activeHeadsFor(strategy Strategy, cnn, proto, multi HeadScore, multiRan bool) []HeadScore {
	switch strategy {
	case StrategyCNNOnly:
		return []HeadScore{cnn}
	case StrategyProtoNet:
		return []HeadScore{proto}
	case StrategyMulticlass:
		if multiRan {
			return []HeadScore{multi}
		}
		return nil
	case StrategyClassify, StrategyClassifyAnd, StrategyAND:
		return []HeadScore{cnn, proto}
	case StrategyVerify:
		if multiRan {
			return []HeadScore{multi}
		}
		return []HeadScore{cnn, proto}
	default:
		heads := []HeadScore{cnn, proto}
		if multiRan {
			heads = append(heads, multi)
		}
		return heads
	}
}

// confidenceFor averages per-head FaultLike (verdict==fault) or 1-FaultLike
// (verdict==ok) over the active heads, matching §8 scenario 4's worked
// example.
func confidenceFor(verdict Verdict, heads []HeadScore) float64 {
	if len(heads) == 0 {
		return 0
	}
	var sum float64
	for _, h := range heads {
		if verdict == VerdictFault {
			sum += h.FaultLike
		} else {
			sum += 1 - h.FaultLike
		}
	}
	return sum / float64(len(heads))
}

// strategyAwareCorroboration describes which heads count toward boost
// corroboration for a given strategy, implementing the "strategy-aware"
// override path's per-strategy rule.
func strategyAwareCorroboration(strategy Strategy, cnnV, protoV, multiV headVote) bool {
	switch strategy {
	case StrategyOR, StrategyClassify:
		return cnnV.leaning || protoV.leaning || multiV.leaning
	case StrategyMajority, StrategyVerify:
		return cnnV.above || protoV.above || multiV.above
	case StrategyAND, StrategyClassifyAnd:
		return cnnV.above && protoV.leaning
	case StrategyAll:
		return cnnV.above && protoV.above
	case StrategyCNNOnly:
		return cnnV.leaning
	case StrategyProtoNet:
		return protoV.leaning
	case StrategyMulticlass:
		return multiV.leaning
	default:
		return cnnV.leaning || protoV.leaning
	}
}

// applyEMA smooths raw into the running EMA state (valid tracks whether a
// previous value exists to smooth against).
func applyEMA(prev float64, validPrev bool, raw float64) float64 {
	if !validPrev || math.IsNaN(prev) {
		return raw
	}
	return emaAlpha*raw + (1-emaAlpha)*prev
}
