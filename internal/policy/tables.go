package policy

import "time"

// Topic names of the built-in tables.
const (
	TopicWeather         = "weather"
	TopicStocks          = "stocks"
	TopicNews            = "news"
	TopicCurrentTime     = "current time"
	TopicStaticKnowledge = "static knowledge"

	TopicPrice     = "price"
	TopicRecipe    = "recipe"
	TopicGroceries = "groceries"
)

// General returns the table used for open-domain questions.
// Priority: weather > stocks > news > current time > static knowledge.
func General() *Table {
	return MustTable([]Policy{
		{Topic: TopicWeather, Keywords: []string{"weather", "temperature", "forecast"}, TTL: time.Hour},
		{Topic: TopicStocks, Keywords: []string{"stock", "price", "NASDAQ", "S&P", "shares"}, TTL: 5 * time.Minute},
		{Topic: TopicNews, Keywords: []string{"headline", "news", "breaking", "today"}, TTL: 10 * time.Minute},
		{Topic: TopicCurrentTime, Keywords: []string{"time in", "current time", "timezone"}, TTL: 2 * time.Minute},
		{Topic: TopicStaticKnowledge, Keywords: []string{"facts", "information", "explain", "definition", "describe"}, TTL: 24 * time.Hour, Fallback: true},
	})
}

// Grocery returns the table used by the shopping assistant. Prices move
// faster than recipes, so price wins over recipe.
func Grocery() *Table {
	return MustTable([]Policy{
		{Topic: TopicPrice, Keywords: []string{"price", "cost", "cheap"}, TTL: 2 * time.Hour},
		{Topic: TopicRecipe, Keywords: []string{"recipe", "ingredients", "how to make", "need for", "to make"}, TTL: 24 * time.Hour},
		{Topic: TopicGroceries, TTL: 6 * time.Hour, Fallback: true},
	})
}
