package spam

import (
	"net/url"
	"regexp"
	"strings"

	"my-feed-bot/internal/domain"
)

// terms содержит рекламные слова и фразы. Совпадение ищется целым словом без учёта регистра.
var terms = []string{
	// ru
	`реклама`,
	`на правах рекламы`,
	`рекламный пост`,
	`партн[её]рский (?:пост|материал)`,
	`спонсор(?:ом|а|ы)?`,
	`промокод(?:ом|у|а|ы)?`,
	`скидк(?:а|и|у|ой|ами)`,
	`розыгрыш(?:а|е|и)?`,
	`подпиш(?:ись|итесь)`,
	`подписывайтесь`,
	`переходи(?:те)? по ссылке`,
	`erid`,
	`ерид`,
	// en
	`advertisement`,
	`advertising`,
	`sponsored`,
	`sponsor`,
	`promo ?code`,
	`discount`,
	`giveaway`,
	`subscribe now`,
	`use code`,
	`limited offer`,
}

// hashTags содержит рекламные хэштеги, которые совпадают по префиксу слова.
var hashTags = []string{`#реклама`, `#sponsored`, `#ad`, `#ads`, `#promo`}

var (
	termPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(terms, "|") + `)(?:$|[^\p{L}\p{N}_])`)
	tagPattern  = regexp.MustCompile(`(?i)(?:` + strings.Join(hashTags, "|") + `)(?:$|[^\p{L}\p{N}_])`)
	linkPattern = regexp.MustCompile(`https?://\S+`)
)

var adMediums = map[string]struct{}{
	"influencer": {}, "sponsor": {}, "ed": {}, "ads": {}, "promo": {}, "pr": {}, "native": {},
}

// Classifier определяет рекламные посты по словарю и меткам в ссылках.
type Classifier struct{}

var _ domain.SpamClassifier = Classifier{}

// New создаёт классификатор.
func New() Classifier {
	return Classifier{}
}

// LooksLikeAd сообщает, похож ли текст на рекламу.
func (Classifier) LooksLikeAd(text string) bool {
	return LooksLikeAd(text)
}

// LooksLikeAd сообщает, похож ли текст на рекламу. Пустой текст рекламой не считается.
func LooksLikeAd(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if termPattern.MatchString(text) || tagPattern.MatchString(text) {
		return true
	}
	for _, link := range linkPattern.FindAllString(text, -1) {
		if adLink(link) {
			return true
		}
	}
	return false
}

func adLink(link string) bool {
	u, err := url.Parse(strings.TrimRight(link, ".,;:!?)»\""))
	if err != nil {
		return false
	}
	q := u.Query()
	if q.Has("erid") {
		return true
	}
	_, ok := adMediums[strings.ToLower(q.Get("utm_medium"))]
	return ok
}
