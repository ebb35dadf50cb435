package server

import (
	"github.com/Luke-Grammer/Distributed-TinySNS/message"
	"github.com/Luke-Grammer/Distributed-TinySNS/social"
)

// SNS adapts social.Registry's Login/List/Follow/Unfollow to the
// reflection-based dispatch contract service.go expects — each exported
// method takes (*Args, *Reply) and returns error — so the four unary
// RPCs register and dispatch exactly like any other service.
type SNS struct {
	Registry *social.Registry
}

func NewSNS(reg *social.Registry) *SNS {
	return &SNS{Registry: reg}
}

func (s *SNS) Login(args *message.LoginArgs, reply *message.LoginReply) error {
	msg, err := s.Registry.Login(args.Username)
	if err != nil {
		return err
	}
	reply.Msg = msg
	return nil
}

func (s *SNS) List(args *message.ListArgs, reply *message.ListReply) error {
	all, followers, err := s.Registry.List(args.Username)
	if err != nil {
		return err
	}
	reply.AllUsers = all
	reply.Followers = followers
	return nil
}

func (s *SNS) Follow(args *message.FollowArgs, reply *message.FollowReply) error {
	msg, err := s.Registry.Follow(args.Follower, args.Followee)
	if err != nil {
		return err
	}
	reply.Msg = msg
	return nil
}

func (s *SNS) Unfollow(args *message.UnfollowArgs, reply *message.UnfollowReply) error {
	msg, err := s.Registry.Unfollow(args.Follower, args.Followee)
	if err != nil {
		return err
	}
	reply.Msg = msg
	return nil
}
