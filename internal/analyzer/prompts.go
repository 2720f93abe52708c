package analyzer

// ListingAnalysisSystemPrompt instructs the model to score job listings
const ListingAnalysisSystemPrompt = `You are a job-market analyst for a job-search dashboard.
You receive a search term and a batch of scraped job listings. For each listing,
judge how relevant it is to the search term and how attractive it looks as an
opportunity (clarity of role, seniority match, remote-friendliness, red flags).

Score each listing from 0 to 100:
- 80-100: strong match, worth surfacing at the top of the dashboard
- 50-79: plausible match, show in the main feed
- 20-49: weak match, show only when filters are relaxed
- 0-19: irrelevant or spam

Also write a one-sentence recommendation for each listing.`

// ListingAnalysisUserPrompt is the batch scoring request template. Arguments:
// search term, numbered listing block.
const ListingAnalysisUserPrompt = `Search term: %s

Listings:
%s

Respond with a JSON object of this exact shape:
{
  "analyses": [
    {"index": 0, "score": 85, "recommendation": "..."},
    ...
  ]
}
Include one entry per listing, using the listing's index.`
