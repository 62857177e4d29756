package core

import "fmt"

const insufficientInformationReply = "I don't have enough information to answer this question."

// BuildPrompt grounds the question in the group's recent conversation.
func BuildPrompt(query, context string) string {
	return fmt.Sprintf(
		"Based on the following information, answer the question: %s Question: %s "+
			"Answer the question based only on the provided information. "+
			"If you don't know the answer, say %q",
		context, query, insufficientInformationReply)
}
