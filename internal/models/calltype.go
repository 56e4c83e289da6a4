package models

import (
	"fmt"
	"strings"
)

// CallType classifies the purpose of a call. Recruiter-led and client-led
// namespaces coexist with legacy values kept for older rooms.
type CallType string

const (
	CallTypeRecruiterPrescreen CallType = "recruiter_prescreen"
	CallTypeRecruiterRound1    CallType = "recruiter_round_1"
	CallTypeRecruiterRound2    CallType = "recruiter_round_2"
	CallTypeRecruiterRound3    CallType = "recruiter_round_3"
	CallTypeRecruiterOffer     CallType = "recruiter_offer"
	CallTypeRecruiterGeneral   CallType = "recruiter_general"
	CallTypeClientRound1       CallType = "client_round_1"
	CallTypeClientRound2       CallType = "client_round_2"
	CallTypeClientFinal        CallType = "client_final"
	CallTypeClientGeneral      CallType = "client_general"

	CallTypePrescreen      CallType = "prescreen"
	CallTypeRound1         CallType = "round_1"
	CallTypeRound2         CallType = "round_2"
	CallTypeRound3         CallType = "round_3"
	CallTypeFinalInterview CallType = "final_interview"
	CallTypeOfferCall      CallType = "offer_call"
	CallTypeGeneral        CallType = "general"
)

type callTypeInfo struct {
	label string
	short string
}

var callTypes = map[CallType]callTypeInfo{
	CallTypeRecruiterPrescreen: {"Pre-Screen", "prescreen"},
	CallTypeRecruiterRound1:    {"Round 1 Interview", "r1"},
	CallTypeRecruiterRound2:    {"Round 2 Interview", "r2"},
	CallTypeRecruiterRound3:    {"Round 3 Interview", "r3"},
	CallTypeRecruiterOffer:     {"Offer Discussion", "offer"},
	CallTypeRecruiterGeneral:   {"General Call", "call"},
	CallTypeClientRound1:       {"Client Round 1", "cr1"},
	CallTypeClientRound2:       {"Client Round 2", "cr2"},
	CallTypeClientFinal:        {"Client Final Interview", "cfinal"},
	CallTypeClientGeneral:      {"Client Call", "ccall"},
	CallTypePrescreen:          {"Pre-Screen", "prescreen"},
	CallTypeRound1:             {"Round 1 Interview", "r1"},
	CallTypeRound2:             {"Round 2 Interview", "r2"},
	CallTypeRound3:             {"Round 3 Interview", "r3"},
	CallTypeFinalInterview:     {"Final Interview", "final"},
	CallTypeOfferCall:          {"Offer Discussion", "offer"},
	CallTypeGeneral:            {"General Call", "call"},
}

// ParseCallType validates s; an empty string yields the default recruiter_general.
func ParseCallType(s string) (CallType, error) {
	if s == "" {
		return CallTypeRecruiterGeneral, nil
	}
	ct := CallType(s)
	if _, ok := callTypes[ct]; !ok {
		return "", fmt.Errorf("invalid call type %q", s)
	}
	return ct, nil
}

// Label is the tenant-visible name of the call type.
func (t CallType) Label() string {
	if info, ok := callTypes[t]; ok {
		return info.label
	}
	return "Video Call"
}

// Short is the compact code embedded in vendor room names.
func (t CallType) Short() string {
	if info, ok := callTypes[t]; ok {
		return info.short
	}
	s := strings.ToLower(strings.ReplaceAll(string(t), "_", ""))
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}

// CallMode is how the call is conducted.
type CallMode string

const (
	CallModeVideo     CallMode = "video"
	CallModePhone     CallMode = "phone"
	CallModeAudioOnly CallMode = "audio_only"
)

// ParseCallMode validates s; an empty string yields video.
func ParseCallMode(s string) (CallMode, error) {
	switch CallMode(s) {
	case "":
		return CallModeVideo, nil
	case CallModeVideo, CallModePhone, CallModeAudioOnly:
		return CallMode(s), nil
	}
	return "", fmt.Errorf("invalid call mode %q", s)
}
