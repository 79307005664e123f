// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "BirdTag")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/birdtag.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)
	viper.SetDefault("main.log.rotationday", "Sunday")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "birdtag.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "birdtag")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "birdtag")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", 3306)

	viper.SetDefault("query.defaultpagesize", 100)
	viper.SetDefault("query.maxpagesize", 1000)
	viper.SetDefault("query.scanbatchsize", 500)

	viper.SetDefault("subscriptions.cacheenabled", true)
	viper.SetDefault("subscriptions.cachettl", "30s")

	viper.SetDefault("notification.enabled", true)
	viper.SetDefault("notification.workers", 2)
	viper.SetDefault("notification.queuesize", 256)
	viper.SetDefault("notification.maxretries", 3)
	viper.SetDefault("notification.retrydelay", "500ms")
	viper.SetDefault("notification.staleclaimage", "5m")
	viper.SetDefault("notification.recentkeys", 4096)
	viper.SetDefault("notification.log.enabled", true)
	viper.SetDefault("notification.log.path", "logs/notifications.log")
	viper.SetDefault("notification.log.rotation", RotationDaily)
	viper.SetDefault("notification.log.maxsize", 1048576)
	viper.SetDefault("notification.log.rotationday", "Sunday")
	viper.SetDefault("notification.circuitbreaker.failurethreshold", 5)
	viper.SetDefault("notification.circuitbreaker.recoverytimeout", "30s")
}
