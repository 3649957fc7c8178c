// Package questions holds the fixed mental-health intake question catalog
// and an optional LLM refiner that rewrites the next catalog entry into a
// short, personalized question.
package questions

// Question is one entry of the intake interview.
type Question struct {
	ID       int
	Section  string
	Text     string
	Expected string // what a complete answer should cover
}

var catalog = []Question{
	{0, "Introduction", "How are you feeling today, and what brings you here?", "current mood, reason for seeking support"},
	{1, "Mood", "Over the past two weeks, how would you describe your overall mood?", "mood description, frequency of low or elevated mood"},
	{2, "Sleep", "How have you been sleeping lately?", "sleep duration, quality, difficulty falling or staying asleep"},
	{3, "Energy", "How are your energy levels through a typical day?", "fatigue, restlessness, time of day variation"},
	{4, "Appetite", "Have you noticed any changes in your appetite or eating habits?", "appetite increase or decrease, weight changes"},
	{5, "Interest", "Are there activities you used to enjoy that feel less interesting now?", "anhedonia, withdrawn hobbies"},
	{6, "Stress", "What are the biggest sources of stress in your life right now?", "stressors, coping strategies"},
	{7, "Social", "How connected do you feel to the people around you?", "social support, isolation, relationship quality"},
	{8, "Focus", "How has your ability to focus or make decisions been?", "concentration, indecisiveness, work or study impact"},
	{9, "Coping", "When things get difficult, what do you usually do to cope?", "coping mechanisms, substance use, helpful routines"},
	{10, "Self-view", "How do you feel about yourself these days?", "self-esteem, guilt, self-critical thoughts"},
	{11, "Outlook", "Looking ahead, what would feeling better look like for you?", "goals, hopes, motivation for change"},
}

// Total is the number of questions in the intake interview.
func Total() int { return len(catalog) }

// Get returns the question at index. The second return is false when index is
// past the end of the interview.
func Get(index int) (Question, bool) {
	if index < 0 || index >= len(catalog) {
		return Question{}, false
	}
	return catalog[index], true
}

// Exhausted is the spoken fallback once the interview is complete.
const Exhausted = "No further questions left. talk about anything interesting with user."
