package node

import (
	"context"
	"fmt"
	"strings"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog/log"

	"github.com/skillscale/skillscale/internal/envelope"
	"github.com/skillscale/skillscale/internal/executil"
	"github.com/skillscale/skillscale/internal/observability"
	"github.com/skillscale/skillscale/internal/skills"
)

// stderr carried in an error reply is capped so a runaway child cannot
// balloon reply frames.
const maxStderrBytes = 8 * 1024

type publisher interface {
	SendBytes(data []byte, flags zmq.Flag) (int, error)
}

// process runs the dispatch pipeline for one two-frame message: parse,
// match, load details, execute, reply. Malformed envelopes are dropped
// without a reply; every valid request produces exactly one. Shutdown
// is cooperative at the queue, not here: a request that reached an
// executor runs to natural completion or deadline and its reply is
// published.
func (s *Service) process(msg [2][]byte, pub publisher) {
	req, err := envelope.ParseRequest(msg[0], msg[1])
	if err != nil {
		log.Error().Err(err).Msg("dropping invalid request")
		return
	}

	log.Debug().
		Str("request_id", req.RequestID).
		Str("intent", truncate(req.Intent, 80)).
		Msg("processing request")

	reply, _ := s.dispatch(req)
	s.publish(pub, reply)
	observability.RecordRequest(s.cfg.Topic, reply.Status)
}

// dispatch resolves and executes the request, returning the reply to
// publish and the matched skill name (empty when none resolved).
func (s *Service) dispatch(req envelope.Request) (envelope.Reply, string) {
	in := envelope.ExtractIntent(req.Intent)

	name, err := s.matcher.Match(context.Background(), in.Input, in.Hint)
	if err != nil {
		log.Warn().Err(err).Str("request_id", req.RequestID).Msg("matcher failed")
		name = ""
	}

	skill, ok := s.resolveSkill(name)
	if !ok {
		return envelope.NewError(req.RequestID, req.ReplyTo,
			"No matching skill found for topic: "+req.Topic), ""
	}

	instructions, err := s.registry.EnsureDetails(skill.Name)
	if err != nil {
		// Detail loading is non-fatal; execution proceeds with the
		// metadata already in hand.
		log.Warn().Err(err).Str("skill", skill.Name).Msg("skill details unavailable")
	}

	plan := skills.PlanExecution(skill, s.cfg.Python, instructions)
	if plan.Inline {
		log.Debug().Str("skill", skill.Name).Msg("no run script, serving instructions")
		return envelope.NewSuccess(req.RequestID, req.ReplyTo, plan.Content), skill.Name
	}

	res := s.runner.Run(context.Background(), executil.Spec{
		Command:  plan.Command,
		Dir:      plan.Dir,
		Stdin:    in.Input,
		Deadline: s.cfg.ExecTimeout,
	})
	res.MatchedSkill = skill.Name
	observability.ObserveSkillDuration(s.cfg.Topic, skill.Name, res.Elapsed)

	log.Debug().
		Str("skill", skill.Name).
		Int("exit", res.ExitCode).
		Dur("elapsed", res.Elapsed).
		Msg("execution finished")

	if res.Success {
		return envelope.NewSuccess(req.RequestID, req.ReplyTo, res.Stdout), skill.Name
	}
	diagnostic := fmt.Sprintf("Skill execution failed (exit=%d): %s",
		res.ExitCode, truncate(strings.TrimSpace(res.Stderr), maxStderrBytes))
	return envelope.NewError(req.RequestID, req.ReplyTo, diagnostic), skill.Name
}

// resolveSkill maps the matcher's answer to a registered skill, falling
// back to the sole loaded skill when the matcher abstains.
func (s *Service) resolveSkill(name string) (skills.Skill, bool) {
	if name != "" {
		if skill, ok := s.registry.Find(name); ok {
			return skill, true
		}
	}
	return s.registry.Single()
}

// publish sends the reply envelope. Send failures are logged and
// swallowed; delivery is best-effort and the executor must keep going.
func (s *Service) publish(pub publisher, reply envelope.Reply) {
	topic, payload, err := envelope.SerializeReply(reply)
	if err != nil {
		log.Error().Err(err).Str("request_id", reply.RequestID).Msg("serialize reply failed")
		return
	}

	if _, err := pub.SendBytes(topic, zmq.SNDMORE); err != nil {
		log.Error().Err(err).Str("reply_to", reply.ReplyTo).Msg("publish topic frame failed")
		return
	}
	if _, err := pub.SendBytes(payload, 0); err != nil {
		log.Error().Err(err).Str("reply_to", reply.ReplyTo).Msg("publish payload frame failed")
		return
	}

	log.Debug().Str("reply_to", reply.ReplyTo).Str("status", reply.Status).Msg("published reply")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
