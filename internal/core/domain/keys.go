package domain

import "fmt"

// Store key layout, mirroring one document tree per room:
//
//	rooms/<ID>                      membership document
//	rooms/<ID>/offers/<sender>      at most one live offer per sender
//	rooms/<ID>/answers/<sender>     at most one live answer per sender
//	rooms/<ID>/candidates/<id>      append-only candidate records

func RoomKey(roomID RoomID) string {
	return fmt.Sprintf("rooms/%s", roomID)
}

func OffersPrefix(roomID RoomID) string {
	return fmt.Sprintf("rooms/%s/offers/", roomID)
}

func AnswersPrefix(roomID RoomID) string {
	return fmt.Sprintf("rooms/%s/answers/", roomID)
}

func CandidatesPrefix(roomID RoomID) string {
	return fmt.Sprintf("rooms/%s/candidates/", roomID)
}

func OfferKey(roomID RoomID, from ParticipantID) string {
	return OffersPrefix(roomID) + string(from)
}

func AnswerKey(roomID RoomID, from ParticipantID) string {
	return AnswersPrefix(roomID) + string(from)
}

func CandidateKey(roomID RoomID, id string) string {
	return CandidatesPrefix(roomID) + id
}

// DescriptionPrefix maps an offer/answer message type to its
// collection prefix.
func DescriptionPrefix(roomID RoomID, kind MessageType) string {
	if kind == MessageAnswer {
		return AnswersPrefix(roomID)
	}
	return OffersPrefix(roomID)
}

// DescriptionKey maps an offer/answer message type to its sender-keyed
// document key.
func DescriptionKey(roomID RoomID, kind MessageType, from ParticipantID) string {
	return DescriptionPrefix(roomID, kind) + string(from)
}
